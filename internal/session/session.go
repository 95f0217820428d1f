// Package session implements the per-connection state machine: framing,
// the authentication handshake, data forwarding, keepalive, and teardown.
// A Session owns its TLS stream exclusively; nothing outside this package
// ever writes to it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vpngw/server/internal/authsvc"
	"github.com/vpngw/server/internal/frame"
	"github.com/vpngw/server/internal/ippool"
	"github.com/vpngw/server/internal/tunif"
)

const (
	keepaliveTick   = 10 * time.Second
	keepaliveProbe  = 30 * time.Second
	keepaliveExpiry = 120 * time.Second
	readBufSize     = 32 * 1024

	// disconnectGrace bounds the DISCONNECT frame write during teardown so a
	// stalled peer can't hold the session (and the drain it's part of) open
	// indefinitely (spec.md §5).
	disconnectGrace = 2 * time.Second
)

// Registry is the subset of the session registry a Session depends on.
// Defined here (rather than imported from internal/registry) to keep the
// dependency arrow pointing from registry -> session, not the reverse.
type Registry interface {
	Register(s *Session)
	BindIP(ip net.IP, s *Session) error
	Unregister(id uuid.UUID)
}

// Config carries the process-wide, immutable values pushed to a client on
// successful authentication.
type Config struct {
	DNS               []string
	MTU               int
	KeepaliveInterval int
	Gateway           net.IP
	SubnetMask        net.IPMask
}

// Session is one client connection's state machine.
type Session struct {
	id       uuid.UUID
	conn     net.Conn
	peerAddr string

	auth     *authsvc.Service
	pool     *ippool.Pool
	tun      tunif.Interface
	registry Registry
	cfg      Config
	log      *slog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	buf           []byte
	assignedIP    net.IP
	userID        uuid.UUID
	persistedID   uuid.UUID
	platform      string
	clientVersion string
	lastActivity  time.Time
	authSeen      bool

	bytesSent     int64
	bytesReceived int64

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	doneCh       chan struct{}
}

// New constructs a Session over an already-accepted stream. The caller
// owns conn's lifecycle up to this point; from here on only the session
// touches it.
func New(conn net.Conn, peerAddr string, auth *authsvc.Service, pool *ippool.Pool, tun tunif.Interface, registry Registry, cfg Config, log *slog.Logger) *Session {
	return &Session{
		id:           uuid.New(),
		conn:         conn,
		peerAddr:     peerAddr,
		auth:         auth,
		pool:         pool,
		tun:          tun,
		registry:     registry,
		cfg:          cfg,
		log:          log,
		state:        StateConnected,
		lastActivity: time.Now(),
		shutdownCh:   make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// AssignedIP returns the leased client address, or nil before Authenticated.
func (s *Session) AssignedIP() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignedIP
}

func (s *Session) resetActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	last := s.lastActivity
	s.mu.Unlock()
	return time.Since(last)
}

// Stats returns the wire byte counters (tunnel traffic, not user payload).
func (s *Session) Stats() (sent, received int64) {
	return atomic.LoadInt64(&s.bytesSent), atomic.LoadInt64(&s.bytesReceived)
}

// Done is closed once Run has fully torn the session down.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// RequestShutdown asks the session to disconnect gracefully: it sends a
// DISCONNECT frame to the client and tears down, same as a client-initiated
// disconnect. Safe to call more than once or concurrently with Run exiting
// on its own.
func (s *Session) RequestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// SendDataPacket frames and writes an internet->client datagram. Called by
// the router; errors are expected and ignorable when the session is
// concurrently tearing down.
func (s *Session) SendDataPacket(packet []byte) error {
	return s.sendFrame(frame.DataPacket, packet)
}

// Run drives the session until it reaches Disconnected, then returns after
// closing Done(). It spawns one reader goroutine for the blocking stream
// read and otherwise processes everything on the calling goroutine.
func (s *Session) Run(ctx context.Context) {
	defer close(s.doneCh)

	s.registry.Register(s)

	dataCh := make(chan []byte, 16)
	readErrCh := make(chan error, 1)
	go s.readLoop(dataCh, readErrCh)

	ticker := time.NewTicker(keepaliveTick)
	defer ticker.Stop()

	for {
		if s.State() == StateDisconnecting {
			break
		}
		select {
		case <-ctx.Done():
			s.setState(StateDisconnecting)
		case <-s.shutdownCh:
			s.setState(StateDisconnecting)
		case chunk, ok := <-dataCh:
			if !ok {
				continue
			}
			s.onBytesRead(ctx, chunk)
		case err := <-readErrCh:
			s.log.Debug("session stream closed", "session", s.id, "err", err)
			s.setState(StateDisconnecting)
		case <-ticker.C:
			s.checkKeepalive()
		}
	}

	s.teardown(ctx)
}

func (s *Session) readLoop(dataCh chan<- []byte, errCh chan<- error) {
	buf := make([]byte, readBufSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case dataCh <- chunk:
			case <-s.doneCh:
				return
			}
		}
		if err != nil {
			select {
			case errCh <- err:
			case <-s.doneCh:
			}
			return
		}
	}
}

func (s *Session) onBytesRead(ctx context.Context, chunk []byte) {
	atomic.AddInt64(&s.bytesReceived, int64(len(chunk)))

	s.mu.Lock()
	s.buf = append(s.buf, chunk...)
	buf := s.buf
	s.mu.Unlock()

	msgs, residual, err := frame.DecodeAll(buf)

	s.mu.Lock()
	s.buf = residual
	s.mu.Unlock()

	for _, m := range msgs {
		if s.State() == StateDisconnecting {
			return
		}
		s.handleMessage(ctx, m)
	}

	if err != nil {
		s.log.Warn("framing error, closing session", "session", s.id, "err", err)
		s.setState(StateDisconnecting)
	}
}

func (s *Session) checkKeepalive() {
	idle := s.idleSince()
	if idle > keepaliveExpiry {
		s.log.Info("session idle timeout", "session", s.id, "idle", idle)
		s.setState(StateDisconnecting)
		return
	}
	if s.State() == StateActive && idle > keepaliveProbe {
		_ = s.sendFrame(frame.Keepalive, nil)
	}
}

func (s *Session) sendFrame(t frame.Type, payload []byte) error {
	buf, err := frame.Encode(t, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	_, err = s.conn.Write(buf)
	s.writeMu.Unlock()
	if err == nil {
		atomic.AddInt64(&s.bytesSent, int64(len(buf)))
	}
	return err
}

func (s *Session) sendJSON(t frame.Type, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal %v payload: %w", t, err)
	}
	return s.sendFrame(t, payload)
}

// teardown implements transition 7 (Disconnecting -> Disconnected).
func (s *Session) teardown(ctx context.Context) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(disconnectGrace))
	_ = s.sendFrame(frame.Disconnect, nil)
	_ = s.conn.Close()

	if ip := s.AssignedIP(); ip != nil {
		s.pool.Release(ip)
	}

	s.mu.Lock()
	persistedID := s.persistedID
	userID := s.userID
	platform := s.platform
	s.mu.Unlock()

	if persistedID != uuid.Nil {
		sent, received := s.Stats()
		_ = s.auth.UpdateSessionStats(ctx, persistedID, sent, received)
		_ = s.auth.EndSession(ctx, persistedID, userID, platform, s.peerAddr)
	}

	s.registry.Unregister(s.id)
	s.setState(StateDisconnected)
}
