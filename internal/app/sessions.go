package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-app/internal/client"
	"github.com/kjstillabower/weather-forecast-app/internal/observability"
)

type session struct {
	container *Container
	lastSeen  time.Time
}

// SessionStore keeps one Container per browser session and expires idle sessions.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	client   client.ForecastClient
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionStore creates a store whose containers fetch through c. ttl <= 0 disables expiry.
func NewSessionStore(c client.ForecastClient, ttl time.Duration, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		client:   c,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the container for id and refreshes its idle timer.
func (s *SessionStore) Get(id string) (*Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expiredLocked(sess, s.now()) {
		delete(s.sessions, id)
		observability.ActiveSessions.Set(float64(len(s.sessions)))
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess.container, true
}

// Create starts a new session with fresh default state.
func (s *SessionStore) Create() (string, *Container) {
	id := uuid.New().String()
	c := NewContainer(s.client, s.logger.With(zap.String("session_id", id)))

	s.mu.Lock()
	s.sessions[id] = &session{container: c, lastSeen: s.now()}
	n := len(s.sessions)
	s.mu.Unlock()

	observability.ActiveSessions.Set(float64(n))
	return id, c
}

// GetOrCreate returns the container for id, creating a new session when id is unknown or expired.
// The returned id is the one the caller should hand back to the browser.
func (s *SessionStore) GetOrCreate(id string) (string, *Container, bool) {
	if id != "" {
		if c, ok := s.Get(id); ok {
			return id, c, false
		}
	}
	newID, c := s.Create()
	return newID, c, true
}

// Len returns the number of tracked sessions, including any not yet pruned.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune drops sessions idle for longer than the TTL and returns how many were removed.
func (s *SessionStore) Prune() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.expiredLocked(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	observability.ActiveSessions.Set(float64(n))
	return removed
}

// PrunePeriodic prunes at interval until ctx is done.
func (s *SessionStore) PrunePeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				s.logger.Debug("pruned idle sessions", zap.Int("removed", n))
			}
		}
	}
}

func (s *SessionStore) expiredLocked(sess *session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.lastSeen) > s.ttl
}
