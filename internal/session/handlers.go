package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/vpngw/server/internal/authsvc"
	"github.com/vpngw/server/internal/frame"
	"github.com/vpngw/server/internal/ippool"
)

// minIPv4HeaderLen is the shortest possible IPv4 header; DATA_PACKET
// payloads shorter than this cannot carry a destination address and are
// dropped (spec.md §8).
const minIPv4HeaderLen = 20

func (s *Session) handleMessage(ctx context.Context, m frame.Message) {
	switch s.State() {
	case StateConnected:
		s.handleConnected(ctx, m)
	case StateAuthenticating, StateAuthenticated:
		s.handleTransient(m)
	case StateActive:
		s.handleActive(ctx, m)
	default:
		// Disconnecting/Disconnected: nothing left to process.
	}
}

func (s *Session) handleConnected(ctx context.Context, m frame.Message) {
	if m.Type != frame.AuthRequest {
		if frame.IsControlType(m.Type) {
			s.log.Warn("unexpected control message in connected state", "session", s.id, "type", m.Type)
		}
		return // DATA_PACKET in Connected is dropped silently.
	}
	s.handleAuthRequest(ctx, m.Payload)
}

// handleTransient covers the brief Authenticating/Authenticated window. A
// second AUTH_REQUEST here is the documented "ignored" duplicate; anything
// else is logged and dropped since the handshake hasn't finished.
func (s *Session) handleTransient(m frame.Message) {
	if m.Type == frame.AuthRequest {
		s.log.Warn("duplicate AUTH_REQUEST ignored", "session", s.id)
		return
	}
	s.log.Warn("message dropped before handshake completed", "session", s.id, "type", m.Type)
}

func (s *Session) handleActive(ctx context.Context, m frame.Message) {
	switch m.Type {
	case frame.DataPacket:
		s.handleDataPacket(m.Payload)
	case frame.Keepalive:
		s.resetActivity()
		s.mu.Lock()
		persistedID := s.persistedID
		s.mu.Unlock()
		_ = s.auth.UpdateSessionActivity(ctx, persistedID)
		_ = s.sendFrame(frame.KeepaliveAck, nil)
	case frame.KeepaliveAck:
		// Server-initiated probe acknowledged, or an unsolicited ack from
		// the client; either way it proves liveness (open question, §9).
		s.resetActivity()
	case frame.Disconnect:
		s.setState(StateDisconnecting)
	case frame.AuthRequest:
		// A second AUTH_REQUEST after the handshake is a protocol
		// violation: treated as a stream error per spec.md §8.
		s.log.Warn("AUTH_REQUEST after handshake, closing session", "session", s.id)
		s.setState(StateDisconnecting)
	default:
		s.log.Warn("unexpected message in active state", "session", s.id, "type", m.Type)
	}
}

func (s *Session) handleDataPacket(payload []byte) {
	if len(payload) < minIPv4HeaderLen {
		s.log.Warn("dropped undersized data packet", "session", s.id, "len", len(payload))
		return
	}
	if err := s.tun.Write(payload); err != nil {
		s.log.Warn("tun write failed", "session", s.id, "err", err)
	}
}

func (s *Session) handleAuthRequest(ctx context.Context, payload []byte) {
	var req authRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Warn("malformed AUTH_REQUEST", "session", s.id, "err", err)
		s.setState(StateDisconnecting)
		return
	}

	s.mu.Lock()
	s.authSeen = true
	s.mu.Unlock()
	s.setState(StateAuthenticating)

	res, err := s.auth.Authenticate(ctx, req.Username, req.Password, req.Platform, s.peerAddr)
	if err != nil {
		s.failAuth(authErrorMessage(err))
		return
	}

	ip, err := s.pool.Allocate()
	if err != nil {
		if errors.Is(err, ippool.ErrExhausted) {
			res.Release()
			s.failAuth("No available IP addresses")
			return
		}
		res.Release()
		s.failAuth("Internal server error")
		return
	}

	persistedID, err := s.auth.CreateSession(ctx, res, ip.String(), s.peerAddr, req.Platform, req.ClientVersion)
	if err != nil {
		s.pool.Release(ip)
		s.failAuth("Internal server error")
		return
	}

	s.mu.Lock()
	s.assignedIP = ip
	s.userID = res.UserID
	s.persistedID = persistedID
	s.platform = req.Platform
	s.clientVersion = req.ClientVersion
	s.mu.Unlock()
	s.setState(StateAuthenticated)

	if err := s.sendJSON(frame.AuthResponse, authResponsePayload{Success: true, SessionToken: res.SessionToken}); err != nil {
		s.setState(StateDisconnecting)
		return
	}

	if err := s.registry.BindIP(ip, s); err != nil {
		s.log.Error("ip binding collision", "session", s.id, "ip", ip, "err", err)
		s.setState(StateDisconnecting)
		return
	}

	push := configPushPayload{
		AssignedIP:        ip.String(),
		SubnetMask:        ipMaskToDotted(s.cfg.SubnetMask),
		Gateway:           s.cfg.Gateway.String(),
		DNS:               s.cfg.DNS,
		MTU:               s.cfg.MTU,
		KeepaliveInterval: s.cfg.KeepaliveInterval,
	}
	if err := s.sendJSON(frame.ConfigPush, push); err != nil {
		s.setState(StateDisconnecting)
		return
	}

	s.resetActivity()
	s.setState(StateActive)
}

func (s *Session) failAuth(message string) {
	_ = s.sendJSON(frame.AuthResponse, authResponsePayload{Success: false, ErrorMessage: message})
	s.setState(StateDisconnecting)
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, authsvc.ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, authsvc.ErrAccountDisabled):
		return "Account is disabled"
	case errors.Is(err, authsvc.ErrMaxConnections):
		return "Maximum connections reached"
	default:
		return "Internal server error"
	}
}

func ipMaskToDotted(mask net.IPMask) string {
	if len(mask) != net.IPv4len {
		return ""
	}
	return net.IP(mask).String()
}
