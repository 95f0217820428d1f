package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/vpngw/server/internal/authsvc"
	"github.com/vpngw/server/internal/config"
	"github.com/vpngw/server/internal/ippool"
	"github.com/vpngw/server/internal/server"
	"github.com/vpngw/server/internal/store"
	"github.com/vpngw/server/internal/tunif"
)

func newServeCmd(verbose *bool) *cobra.Command {
	var mockTUN bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the VPN gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := connectStoreWithRetry(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("connect store: %w", err)
			}
			defer db.Close()

			pool, err := ippool.New(cfg.VPNSubnet)
			if err != nil {
				return fmt.Errorf("build ip pool: %w", err)
			}

			tun, err := acquireTUNWithRetry(ctx, cfg, mockTUN, log)
			if err != nil {
				return fmt.Errorf("acquire tun: %w", err)
			}

			auth := authsvc.New(db, cfg.JWTSecret)

			srv, err := server.New(server.Deps{
				Config: cfg,
				Auth:   auth,
				Pool:   pool,
				TUN:    tun,
				Logger: log,
			})
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}

			log.Info("vpngwd starting", "listen", cfg.ListenAddr(), "subnet", cfg.VPNSubnet)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&mockTUN, "mock-tun", false, "use an in-memory TUN device instead of the kernel one (development only)")

	return cmd
}

// connectStoreWithRetry opens the Postgres pool, retrying with backoff so a
// daemon started before the database container is ready doesn't abort
// startup on the first failed dial.
func connectStoreWithRetry(ctx context.Context, cfg *config.Config, log interface {
	Warn(string, ...any)
}) (store.Store, error) {
	var db *store.Postgres
	op := func() error {
		var err error
		db, err = store.NewPostgres(ctx, store.PostgresConfig{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			Database: cfg.DBName,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			MaxConns: 10,
		})
		return err
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMultiplier(2.0),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(30*time.Second),
	)

	notify := func(err error, d time.Duration) {
		log.Warn("database connect failed, retrying", "err", err, "backoff", d)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return db, nil
}

// acquireTUNWithRetry opens the kernel TUN device, retrying briefly since
// the device node can be transiently unavailable right after container
// start. --mock-tun bypasses the kernel entirely for local development.
func acquireTUNWithRetry(ctx context.Context, cfg *config.Config, mock bool, log interface {
	Warn(string, ...any)
}) (tunif.Interface, error) {
	_, subnet, err := net.ParseCIDR(cfg.VPNSubnet)
	if err != nil {
		return nil, fmt.Errorf("parse subnet: %w", err)
	}
	gateway := net.ParseIP(cfg.VPNGateway)

	if mock {
		dev := tunif.NewMock("mock-tun0", cfg.VPNMTU)
		return dev, dev.AssignIP(gateway, subnet.Mask)
	}

	tunCfg := tunif.Config{
		MTU:       cfg.VPNMTU,
		Subnet:    subnet,
		GatewayIP: gateway,
	}

	var dev *tunif.KernelDevice
	op := func() error {
		var err error
		dev, err = tunif.NewKernel(tunCfg)
		return err
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMultiplier(2.0),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(10*time.Second),
	)

	notify := func(err error, d time.Duration) {
		log.Warn("tun acquisition failed, retrying", "err", err, "backoff", d)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}

	if err := dev.AssignIP(gateway, subnet.Mask); err != nil {
		return nil, fmt.Errorf("assign tun ip: %w", err)
	}
	return dev, nil
}
