package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig parameterizes the connection pool.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	MaxConns int32
}

// DSN builds the libpq-style connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Postgres implements Store against a Postgres connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres parses cfg, opens a pool, pings it, and runs migrations.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	pg := &Postgres{pool: pool}
	if err := pg.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	slog.Info("store connected", "host", cfg.Host, "database", cfg.Database)
	return pg, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, username, password_verifier, active, max_connections, created_at, updated_at
		FROM users WHERE username = $1`, username)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordVerifier, &u.Active, &u.MaxConnections, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

func (p *Postgres) CountActiveSessionsForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count sessions: %w", err)
	}
	return count, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s Session) (uuid.UUID, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions
			(id, user_id, assigned_ip, peer_address, platform, client_version,
			 connected_at, last_activity, bytes_sent, bytes_received)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0)`,
		s.ID, s.UserID, s.AssignedIP, s.PeerAddress, s.Platform, s.ClientVersion,
		s.ConnectedAt, s.LastActivity)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: create session: %w", err)
	}
	return s.ID, nil
}

func (p *Postgres) UpdateSessionActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("store: update activity: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateSessionStats(ctx context.Context, id uuid.UUID, bytesSent, bytesReceived int64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE sessions
		SET bytes_sent = bytes_sent + $2, bytes_received = bytes_received + $3
		WHERE id = $1`, id, bytesSent, bytesReceived)
	if err != nil {
		return fmt.Errorf("store: update stats: %w", err)
	}
	return nil
}

func (p *Postgres) EndSession(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}

func (p *Postgres) CleanupStaleSessions(ctx context.Context, maxIdle time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM sessions WHERE last_activity < $1`, time.Now().Add(-maxIdle))
	if err != nil {
		return 0, fmt.Errorf("store: cleanup stale sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) AppendConnectionLog(ctx context.Context, log ConnectionLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO connection_logs (id, user_id, event_type, peer_address, platform, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ID, log.UserID, log.EventType, log.PeerAddress, log.Platform, log.Details, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append connection log: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Store = (*Postgres)(nil)
