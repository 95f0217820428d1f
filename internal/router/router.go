// Package router wires the TUN interface to the session registry in both
// directions (spec.md §4.7). The client->internet direction is a single
// hop a session already owns (it holds the TUN write handle directly);
// this package owns the internet->client direction, which needs the
// registry's IP index to find the right session.
package router

import (
	"context"
	"log/slog"
	"net"

	"github.com/vpngw/server/internal/registry"
	"github.com/vpngw/server/internal/tunif"
)

// minIPv4HeaderLen mirrors internal/session's bound: a destination address
// cannot be read out of anything shorter.
const minIPv4HeaderLen = 20

// destOffset is where the IPv4 header places the destination address.
const destOffset = 16

// Router reads datagrams from the TUN device and forwards each to the
// session whose assigned IP matches the destination address.
type Router struct {
	tun tunif.Interface
	reg *registry.Registry
	log *slog.Logger

	doneCh chan struct{}
}

// New constructs a Router over tun and reg. Neither is owned by the
// Router; Run only reads from tun and looks up reg.
func New(tun tunif.Interface, reg *registry.Registry, log *slog.Logger) *Router {
	return &Router{tun: tun, reg: reg, log: log, doneCh: make(chan struct{})}
}

// Done is closed once Run has returned.
func (r *Router) Done() <-chan struct{} { return r.doneCh }

// Run reads from the TUN device until ctx is canceled or the device is
// closed (e.g. by Destroy during shutdown), pushing each datagram to its
// owning session.
func (r *Router) Run(ctx context.Context) {
	defer close(r.doneCh)

	packets := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go r.readLoop(packets, errCh)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			r.log.Debug("router: tun read loop stopped", "err", err)
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			r.forward(packet)
		}
	}
}

func (r *Router) readLoop(packets chan<- []byte, errCh chan<- error) {
	for {
		packet, err := r.tun.Read()
		if err != nil {
			errCh <- err
			return
		}
		select {
		case packets <- packet:
		case <-r.doneCh:
			return
		}
	}
}

func (r *Router) forward(packet []byte) {
	if len(packet) < minIPv4HeaderLen {
		return
	}
	dst := net.IP(packet[destOffset : destOffset+4])

	s, ok := r.reg.LookupByIP(dst)
	if !ok {
		return // stray broadcast or a raced disconnect; drop silently.
	}
	if err := s.SendDataPacket(packet); err != nil {
		r.log.Debug("router: forward to session failed", "session", s.ID(), "err", err)
	}
}
