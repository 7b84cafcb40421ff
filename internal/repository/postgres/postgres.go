// Package postgres implements the session repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/shipyard/internal/domain"
	"github.com/splax/shipyard/internal/repository"
)

const defaultListLimit = 50

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

var _ repository.SessionRepository = (*Repository)(nil)

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Connect opens a pool for dsn and verifies it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateSession inserts a session row.
func (r *Repository) CreateSession(ctx context.Context, session *domain.BuildSession) error {
	const query = `INSERT INTO build_sessions (id, repository_url, status, artifact_url, executor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.RepositoryURL,
		session.Status,
		session.ArtifactURL,
		session.Executor,
		session.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return repository.ErrConflict
			case "23514", "22P02":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// GetSession fetches a session by identifier.
func (r *Repository) GetSession(ctx context.Context, id string) (*domain.BuildSession, error) {
	const query = `SELECT id, repository_url, status, artifact_url, executor, created_at
		FROM build_sessions WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var s domain.BuildSession
	if err := row.Scan(&s.ID, &s.RepositoryURL, &s.Status, &s.ArtifactURL, &s.Executor, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListRecentSessions returns the newest sessions first.
func (r *Repository) ListRecentSessions(ctx context.Context, limit int) ([]domain.BuildSession, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const query = `SELECT id, repository_url, status, artifact_url, executor, created_at
		FROM build_sessions ORDER BY created_at DESC, id LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BuildSession, error) {
		var s domain.BuildSession
		err := row.Scan(&s.ID, &s.RepositoryURL, &s.Status, &s.ArtifactURL, &s.Executor, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
