package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mem is an in-memory Store used by tests that exercise authsvc/session
// without a real Postgres instance.
type Mem struct {
	mu       sync.Mutex
	users    map[string]*User // by username
	sessions map[uuid.UUID]*Session
	logs     []ConnectionLog
}

// NewMem constructs an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		users:    make(map[string]*User),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// PutUser seeds a user record for tests.
func (m *Mem) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.Username] = &cp
}

func (m *Mem) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Mem) CountActiveSessionsForUser(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *Mem) CreateSession(_ context.Context, s Session) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := s
	m.sessions[s.ID] = &cp
	return s.ID, nil
}

func (m *Mem) UpdateSessionActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (m *Mem) UpdateSessionStats(_ context.Context, id uuid.UUID, bytesSent, bytesReceived int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.BytesSent += bytesSent
		s.BytesReceived += bytesReceived
	}
	return nil
}

func (m *Mem) EndSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Mem) CleanupStaleSessions(_ context.Context, maxIdle time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Mem) AppendConnectionLog(_ context.Context, log ConnectionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	m.logs = append(m.logs, log)
	return nil
}

// Logs returns a snapshot of appended connection logs, for assertions.
func (m *Mem) Logs() []ConnectionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConnectionLog, len(m.logs))
	copy(out, m.logs)
	return out
}

// Sessions returns a snapshot of live session rows, for assertions.
func (m *Mem) Sessions() map[uuid.UUID]Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]Session, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = *s
	}
	return out
}

func (m *Mem) Close() {}

var _ Store = (*Mem)(nil)
