// Package store is the core's narrow repository interface over the
// relational store: users, live session rows, and connection-event logs.
// The core depends only on the Store interface; Postgres is an adapter.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// EventType enumerates connection_logs.event_type values.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventAuthFail   EventType = "auth_fail"
	EventError      EventType = "error"
)

// Platform enumerates the client platforms AUTH_REQUEST may declare.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
)

// User mirrors the users table (read-only to the core).
type User struct {
	ID                uuid.UUID
	Username          string
	PasswordVerifier  string // argon2id encoded hash
	Active            bool
	MaxConnections    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session mirrors the sessions table (write-mostly from the core).
type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AssignedIP    string
	PeerAddress   string
	Platform      Platform
	ClientVersion string
	ConnectedAt   time.Time
	LastActivity  time.Time
	BytesSent     int64
	BytesReceived int64
}

// ConnectionLog mirrors a connection_logs row.
type ConnectionLog struct {
	ID          uuid.UUID
	UserID      *uuid.UUID
	EventType   EventType
	PeerAddress string
	Platform    Platform
	Details     string
	CreatedAt   time.Time
}

// Store is the persistence surface the auth service depends on.
type Store interface {
	// GetUserByUsername returns ErrNotFound if no such user exists.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// CountActiveSessionsForUser returns how many session rows currently
	// exist for a user (used to enforce the max-concurrent-connections
	// cap).
	CountActiveSessionsForUser(ctx context.Context, userID uuid.UUID) (int, error)

	// CreateSession inserts a new session row and returns its id.
	CreateSession(ctx context.Context, s Session) (uuid.UUID, error)

	// UpdateSessionActivity bumps a session's last-activity timestamp.
	UpdateSessionActivity(ctx context.Context, id uuid.UUID, at time.Time) error

	// UpdateSessionStats atomically adds to the byte counters.
	UpdateSessionStats(ctx context.Context, id uuid.UUID, bytesSent, bytesReceived int64) error

	// EndSession removes the session row.
	EndSession(ctx context.Context, id uuid.UUID) error

	// CleanupStaleSessions removes rows whose last-activity is older than
	// maxIdle and returns the count removed.
	CleanupStaleSessions(ctx context.Context, maxIdle time.Duration) (int, error)

	// AppendConnectionLog appends a connection_logs row.
	AppendConnectionLog(ctx context.Context, log ConnectionLog) error

	// Close releases the underlying connection pool.
	Close()
}
