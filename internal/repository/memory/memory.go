// Package memory keeps build sessions in process memory for a bounded time.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/splax/shipyard/internal/domain"
	"github.com/splax/shipyard/internal/repository"
)

const defaultSweepInterval = 5 * time.Minute

// Repository is an in-memory SessionRepository. Sessions older than the TTL are swept
// periodically and are invisible once expired.
type Repository struct {
	mu       sync.RWMutex
	sessions map[string]domain.BuildSession
	ttl      time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	once     sync.Once
}

var _ repository.SessionRepository = (*Repository)(nil)

// New starts a repository whose sweeper runs every interval. A non-positive ttl keeps
// sessions forever.
func New(ttl, interval time.Duration) *Repository {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	r := &Repository{
		sessions: make(map[string]domain.BuildSession),
		ttl:      ttl,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go r.sweepLoop(interval)
	return r
}

// CreateSession stores a copy of session.
func (r *Repository) CreateSession(_ context.Context, session *domain.BuildSession) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return repository.ErrConflict
	}
	r.sessions[session.ID] = *session
	return nil
}

// GetSession returns the session with id.
func (r *Repository) GetSession(_ context.Context, id string) (*domain.BuildSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok || r.expired(session, r.now()) {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

// ListRecentSessions returns up to limit live sessions, newest first.
func (r *Repository) ListRecentSessions(_ context.Context, limit int) ([]domain.BuildSession, error) {
	now := r.now()
	r.mu.RLock()
	out := make([]domain.BuildSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		if !r.expired(session, now) {
			out = append(out, session)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close stops the sweeper.
func (r *Repository) Close() {
	r.once.Do(func() {
		close(r.stopCh)
	})
}

func (r *Repository) expired(session domain.BuildSession, now time.Time) bool {
	return r.ttl > 0 && now.Sub(session.CreatedAt) > r.ttl
}

func (r *Repository) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanup(r.now())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Repository) cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, session := range r.sessions {
		if r.expired(session, now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
