// Package authsvc is a stateless façade over the user repository: it
// verifies credentials, enforces the per-user concurrency cap, mints
// session tokens, and persists session/event rows through store.Store.
package authsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vpngw/server/internal/store"
)

// Sentinel errors surfaced to the session layer as bounded, user-visible
// failure messages (spec.md §7).
var (
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrAccountDisabled    = errors.New("Account is disabled")
	ErrMaxConnections     = errors.New("Maximum connections reached")
	ErrInternal           = errors.New("Internal server error")
)

// Service is the authentication façade.
type Service struct {
	store     store.Store
	jwtSecret []byte

	userLocksMu sync.Mutex
	userLocks   map[uuid.UUID]*sync.Mutex
}

// New constructs a Service over store, signing tokens with secret.
func New(st store.Store, secret string) *Service {
	return &Service{
		store:     st,
		jwtSecret: []byte(secret),
		userLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// AuthResult is returned by a successful Authenticate call. The caller
// MUST eventually call either CreateSession (to consume the reservation)
// or Release (to abandon it, e.g. on IP pool exhaustion) exactly once —
// until then, this user's concurrency-cap check and any concurrent
// Authenticate for the same user are serialized, so the cap invariant
// holds across the whole authenticate-then-persist window rather than
// only at the initial count.
type AuthResult struct {
	UserID       uuid.UUID
	SessionToken string

	lock *sync.Mutex
}

// Release abandons the reservation without creating a session row,
// letting other pending authentications for this user proceed.
func (r *AuthResult) Release() {
	if r.lock != nil {
		r.lock.Unlock()
		r.lock = nil
	}
}

func (s *Service) lockFor(userID uuid.UUID) *sync.Mutex {
	s.userLocksMu.Lock()
	defer s.userLocksMu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// Authenticate verifies username/password, enforces the active flag and
// concurrency cap, and on success returns the user id and a signed session
// token while holding a per-user reservation lock (see AuthResult). Every
// outcome, including failures, appends a connection_logs row.
func (s *Service) Authenticate(ctx context.Context, username, password, platform, peerAddr string) (*AuthResult, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logOutcome(ctx, nil, platform, peerAddr, "No such user")
			return nil, ErrInvalidCredentials
		}
		s.logOutcome(ctx, nil, platform, peerAddr, fmt.Sprintf("lookup error: %v", err))
		return nil, ErrInternal
	}

	ok, err := verifyPassword(password, user.PasswordVerifier)
	if err != nil || !ok {
		s.logOutcome(ctx, &user.ID, platform, peerAddr, "Wrong password")
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		s.logOutcome(ctx, &user.ID, platform, peerAddr, "Account disabled")
		return nil, ErrAccountDisabled
	}

	lock := s.lockFor(user.ID)
	lock.Lock()

	active, err := s.store.CountActiveSessionsForUser(ctx, user.ID)
	if err != nil {
		lock.Unlock()
		s.logOutcome(ctx, &user.ID, platform, peerAddr, fmt.Sprintf("session count error: %v", err))
		return nil, ErrInternal
	}
	if active >= user.MaxConnections {
		lock.Unlock()
		s.logOutcome(ctx, &user.ID, platform, peerAddr, "Max concurrent connections reached")
		return nil, ErrMaxConnections
	}

	token, err := mintToken(s.jwtSecret, user.ID, user.Username, platform)
	if err != nil {
		lock.Unlock()
		s.logOutcome(ctx, &user.ID, platform, peerAddr, fmt.Sprintf("token error: %v", err))
		return nil, ErrInternal
	}

	s.logConnect(ctx, user.ID, platform, peerAddr)
	return &AuthResult{UserID: user.ID, SessionToken: token, lock: lock}, nil
}

// CreateSession persists a new session row, consuming the reservation
// acquired by Authenticate, and returns the row's id.
func (s *Service) CreateSession(ctx context.Context, res *AuthResult, assignedIP, peerAddr, platform, clientVersion string) (uuid.UUID, error) {
	defer res.Release()

	now := time.Now()
	return s.store.CreateSession(ctx, store.Session{
		UserID:        res.UserID,
		AssignedIP:    assignedIP,
		PeerAddress:   peerAddr,
		Platform:      store.Platform(platform),
		ClientVersion: clientVersion,
		ConnectedAt:   now,
		LastActivity:  now,
	})
}

// UpdateSessionActivity bumps a session's last-activity timestamp.
func (s *Service) UpdateSessionActivity(ctx context.Context, id uuid.UUID) error {
	return s.store.UpdateSessionActivity(ctx, id, time.Now())
}

// UpdateSessionStats atomically adds to a session's byte counters.
func (s *Service) UpdateSessionStats(ctx context.Context, id uuid.UUID, bytesSent, bytesReceived int64) error {
	return s.store.UpdateSessionStats(ctx, id, bytesSent, bytesReceived)
}

// EndSession removes the session row and appends a disconnect event.
func (s *Service) EndSession(ctx context.Context, id uuid.UUID, userID uuid.UUID, platform, peerAddr string) error {
	if err := s.store.EndSession(ctx, id); err != nil {
		return err
	}
	s.logOutcomeEvent(ctx, store.EventDisconnect, &userID, platform, peerAddr, "session ended")
	return nil
}

// CleanupStaleSessions removes rows whose last-activity exceeds maxIdle
// and returns the count removed.
func (s *Service) CleanupStaleSessions(ctx context.Context, maxIdleMinutes int) (int, error) {
	return s.store.CleanupStaleSessions(ctx, time.Duration(maxIdleMinutes)*time.Minute)
}

func (s *Service) logConnect(ctx context.Context, userID uuid.UUID, platform, peerAddr string) {
	s.logOutcomeEvent(ctx, store.EventConnect, &userID, platform, peerAddr, "authenticated")
}

func (s *Service) logOutcome(ctx context.Context, userID *uuid.UUID, platform, peerAddr, details string) {
	s.logOutcomeEvent(ctx, store.EventAuthFail, userID, platform, peerAddr, details)
}

func (s *Service) logOutcomeEvent(ctx context.Context, evt store.EventType, userID *uuid.UUID, platform, peerAddr, details string) {
	_ = s.store.AppendConnectionLog(ctx, store.ConnectionLog{
		UserID:      userID,
		EventType:   evt,
		PeerAddress: peerAddr,
		Platform:    store.Platform(platform),
		Details:     details,
		CreatedAt:   time.Now(),
	})
}
