package service

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one user's tracking workspace. The tracker is only reachable
// through Do, which runs one interaction at a time.
type Session struct {
	ID        string
	Tenant    string
	Username  string
	CreatedAt time.Time

	mu        sync.Mutex
	filename  string
	updatedAt time.Time
	tracker   *Tracker
}

// SessionInfo is a read-only summary of a session
type SessionInfo struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Username  string    `json:"username"`
	Filename  string    `json:"filename,omitempty"`
	Items     int       `json:"items"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Do runs fn with exclusive access to the session's tracker
func (s *Session) Do(fn func(t *Tracker) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := fn(s.tracker)
	s.updatedAt = time.Now()
	return err
}

// SetFilename records the source document of the current table
func (s *Session) SetFilename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filename = name
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:        s.ID,
		Tenant:    s.Tenant,
		Username:  s.Username,
		Filename:  s.filename,
		Items:     s.tracker.Len(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
}

// SessionStore keeps sessions in memory only
type SessionStore struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	maxSessions int // 0 = unlimited
}

func NewSessionStore(cfg *config.StoreConfig) *SessionStore {
	maxSessions := cfg.MaxSessions
	if maxSessions < 0 {
		maxSessions = 0
	}
	slog.Info("session store initialized", "max_sessions", maxSessions)
	return &SessionStore{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create opens an empty session for a user
func (s *SessionStore) Create(tenant, username string) *Session {
	now := time.Now()
	session := &Session{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		Username:  username,
		CreatedAt: now,
		updatedAt: now,
		tracker:   NewTracker(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	s.evictIfNeeded(session.ID)
	return session
}

func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListByTenant returns the tenant's sessions, newest first
func (s *SessionStore) ListByTenant(tenant string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, session := range s.sessions {
		if session.Tenant == tenant {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// evictIfNeeded drops the oldest sessions beyond maxSessions, never the one
// named by keep. Must be called with lock held.
func (s *SessionStore) evictIfNeeded(keep string) {
	if s.maxSessions <= 0 || len(s.sessions) <= s.maxSessions {
		return
	}
	excess := len(s.sessions) - s.maxSessions

	candidates := make([]*Session, 0, len(s.sessions))
	for id, session := range s.sessions {
		if id != keep {
			candidates = append(candidates, session)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for _, session := range candidates[:min(excess, len(candidates))] {
		slog.Info("evicting old session",
			"session_id", session.ID,
			"created_at", session.CreatedAt,
		)
		delete(s.sessions, session.ID)
	}
}
