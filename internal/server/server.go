// Package server is the supervisor: it accepts TLS connections, constructs
// a Session per stream, registers it, runs the packet router and the
// stale-session sweeper, and coordinates orderly shutdown (spec.md §4.8).
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vpngw/server/internal/authsvc"
	"github.com/vpngw/server/internal/config"
	"github.com/vpngw/server/internal/ippool"
	"github.com/vpngw/server/internal/registry"
	"github.com/vpngw/server/internal/router"
	"github.com/vpngw/server/internal/session"
	"github.com/vpngw/server/internal/tunif"
)

const (
	staleSweepInterval  = 5 * time.Minute
	staleSweepMaxIdle   = 5 // minutes, per cleanup_stale_sessions(5)
	sessionDrainTimeout = 10 * time.Second
)

// Server owns the listener, the router, the sweeper, and the metrics
// endpoint for a single running instance.
type Server struct {
	cfg  *config.Config
	auth *authsvc.Service
	pool *ippool.Pool
	tun  tunif.Interface
	reg  *registry.Registry
	rtr  *router.Router
	log  *slog.Logger

	tlsConfig *tls.Config
	metrics   *Metrics

	sessionCfg session.Config

	listener   net.Listener
	sessionsWG sync.WaitGroup
}

// Deps bundles the already-constructed collaborators a Server is built
// from; assembling them (connecting to Postgres, acquiring the TUN
// device) is the caller's responsibility so startup retries live at the
// composition root (cmd/vpngwd), not inside the supervisor.
type Deps struct {
	Config *config.Config
	Auth   *authsvc.Service
	Pool   *ippool.Pool
	TUN    tunif.Interface
	Logger *slog.Logger
}

// New assembles a Server from Deps, building the TLS listener config, the
// registry, the router, and the metrics registry.
func New(d Deps) (*Server, error) {
	tlsConfig, err := buildTLSConfig(d.Config)
	if err != nil {
		return nil, fmt.Errorf("server: tls config: %w", err)
	}

	reg := registry.New()
	rtr := router.New(d.TUN, reg, d.Logger)
	metrics := NewMetrics()

	gatewayIP := net.ParseIP(d.Config.VPNGateway)
	_, ipnet, err := net.ParseCIDR(d.Config.VPNSubnet)
	if err != nil {
		return nil, fmt.Errorf("server: parse vpn subnet: %w", err)
	}

	return &Server{
		cfg:     d.Config,
		auth:    d.Auth,
		pool:    d.Pool,
		tun:     d.TUN,
		reg:     reg,
		rtr:     rtr,
		log:     d.Logger,
		metrics: metrics,
		sessionCfg: session.Config{
			DNS:               d.Config.VPNDNS,
			MTU:               d.Config.VPNMTU,
			KeepaliveInterval: d.Config.KeepaliveInterval,
			Gateway:           gatewayIP,
			SubnetMask:        ipnet.Mask,
		},
		tlsConfig: tlsConfig,
	}, nil
}

func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	clientCAs := x509.NewCertPool()
	if pem, err := os.ReadFile(cfg.TLSCAPath); err == nil {
		clientCAs.AppendCertsFromPEM(pem)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		// Client certificates are not requested (spec.md §6); ClientCAs is
		// loaded for a future mTLS upgrade but has no effect while
		// ClientAuth stays at its zero value (NoClientCert).
		ClientCAs: clientCAs,
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
		PreferServerCipherSuites: true,
	}, nil
}

// Run accepts connections and runs the router/sweeper/metrics endpoint
// until ctx is canceled, then drains active sessions and releases the
// TUN interface before returning.
func (s *Server) Run(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.cfg.ListenAddr(), s.tlsConfig)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	s.log.Info("listening", "addr", s.cfg.ListenAddr())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); s.acceptLoop(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); s.rtr.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); s.sweepLoop(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); s.runMetrics(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); s.metricsLoop(ctx) }()

	<-ctx.Done()
	s.log.Info("shutdown initiated: refusing new connections, draining active sessions")
	s.drainSessions()

	if err := s.tun.Destroy(); err != nil {
		s.log.Warn("tun teardown failed", "err", err)
	}

	wg.Wait()
	s.log.Info("server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}
		s.sessionsWG.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.sessionsWG.Done()
	peerAddr := conn.RemoteAddr().String()
	sess := session.New(conn, peerAddr, s.auth, s.pool, s.tun, s.reg, s.sessionCfg, s.log)
	s.log.Debug("session accepted", "session", sess.ID(), "peer", peerAddr)
	sess.Run(ctx)
	s.log.Debug("session closed", "session", sess.ID(), "peer", peerAddr)
}

// drainSessions cancels nothing itself (Run's ctx cancellation already
// pushed every session toward Disconnecting); it waits, bounded, for the
// registry to empty out so shutdown doesn't proceed to tearing down the
// TUN interface while sessions are still mid-teardown.
func (s *Server) drainSessions() {
	done := make(chan struct{})
	go func() {
		s.sessionsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(sessionDrainTimeout):
		s.log.Warn("session drain timed out, proceeding with shutdown", "remaining", len(s.reg.All()))
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.auth.CleanupStaleSessions(ctx, staleSweepMaxIdle)
			if err != nil {
				s.log.Warn("stale session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("stale sessions removed", "count", n)
			}
		}
	}
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.pool.Stats()
			s.metrics.ipPoolUsed.Set(float64(stats.Used))
			s.metrics.ipPoolCapacity.Set(float64(stats.Capacity))
			active := 0
			for _, sess := range s.reg.All() {
				if sess.State() == session.StateActive {
					active++
				}
			}
			s.metrics.sessionsActive.Set(float64(active))
		}
	}
}

func (s *Server) runMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("metrics server failed", "err", err)
	}
}
