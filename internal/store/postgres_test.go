package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestPostgresStore exercises the Postgres-backed Store against a real
// container. Skipped by default so `go test ./...` stays hermetic; set
// VPNGW_INTEGRATION=1 to run it.
func TestPostgresStore(t *testing.T) {
	if os.Getenv("VPNGW_INTEGRATION") == "" {
		t.Skip("set VPNGW_INTEGRATION=1 to run Postgres-backed integration tests")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("vpngw_test"),
		postgres.WithUsername("vpngw"),
		postgres.WithPassword("vpngw"),
	)
	require.NoError(t, err)
	defer func() {
		_ = pgContainer.Terminate(ctx)
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := PostgresConfig{
		Host:     host,
		Port:     port.Port(),
		Database: "vpngw_test",
		User:     "vpngw",
		Password: "vpngw",
	}

	pg, err := NewPostgres(ctx, cfg)
	require.NoError(t, err)
	defer pg.Close()

	_, err = pg.GetUserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)

	var userID uuid.UUID
	err = pg.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_verifier, active, max_connections)
		VALUES ($1, $2, true, 3) RETURNING id`,
		"testuser", "argon2id-hash-placeholder").Scan(&userID)
	require.NoError(t, err)

	u, err := pg.GetUserByUsername(ctx, "testuser")
	require.NoError(t, err)
	require.Equal(t, userID, u.ID)
	require.True(t, u.Active)

	count, err := pg.CountActiveSessionsForUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	now := time.Now()
	sessID, err := pg.CreateSession(ctx, Session{
		UserID:        userID,
		AssignedIP:    "10.8.0.2",
		PeerAddress:   "203.0.113.5:54321",
		Platform:      PlatformMacOS,
		ClientVersion: "1.0.0",
		ConnectedAt:   now,
		LastActivity:  now,
	})
	require.NoError(t, err)

	count, err = pg.CountActiveSessionsForUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, pg.UpdateSessionStats(ctx, sessID, 100, 200))
	require.NoError(t, pg.UpdateSessionActivity(ctx, sessID, now.Add(time.Minute)))

	removed, err := pg.CleanupStaleSessions(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	require.NoError(t, pg.EndSession(ctx, sessID))
	count, err = pg.CountActiveSessionsForUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	require.NoError(t, pg.AppendConnectionLog(ctx, ConnectionLog{
		UserID:      &userID,
		EventType:   EventDisconnect,
		PeerAddress: "203.0.113.5:54321",
		Platform:    PlatformMacOS,
		Details:     fmt.Sprintf("session %s ended", sessID),
		CreatedAt:   time.Now(),
	}))
}
