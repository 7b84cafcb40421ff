package repository

import (
	"context"

	"github.com/splax/shipyard/internal/domain"
)

// SessionRepository records dispatched build sessions. Log lines are never stored.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.BuildSession) error
	GetSession(ctx context.Context, id string) (*domain.BuildSession, error)
	ListRecentSessions(ctx context.Context, limit int) ([]domain.BuildSession, error)
}
