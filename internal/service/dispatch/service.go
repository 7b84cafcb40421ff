// Package dispatch turns a repository URL into a queued build: it allocates the build ID,
// submits the job and records the session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/shipyard/internal/domain"
	"github.com/splax/shipyard/internal/executor"
	"github.com/splax/shipyard/internal/repository"
	"github.com/splax/shipyard/internal/slug"
)

const defaultSubmitTimeout = 30 * time.Second

var (
	// ErrRepositoryURLRequired is returned for a blank repository URL.
	ErrRepositoryURLRequired = errors.New("dispatch: repository url required")
	// ErrSubmitFailed wraps any error from the execution backend.
	ErrSubmitFailed = errors.New("dispatch: submit failed")
)

// Config carries dispatch settings.
type Config struct {
	ArtifactBaseURL string
	ExecutorName    string
	SubmitTimeout   time.Duration
	ExtraEnv        map[string]string
}

// Service dispatches build jobs.
type Service struct {
	exec     executor.Executor
	sessions repository.SessionRepository
	ids      slug.Generator
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	outcomes outcomeRecorder
}

// New returns a dispatch service.
func New(exec executor.Executor, sessions repository.SessionRepository, ids slug.Generator, logger *slog.Logger, cfg Config) Service {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	return Service{
		exec:     exec,
		sessions: sessions,
		ids:      ids,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		outcomes: defaultOutcomes(),
	}
}

// Dispatch submits a build for repositoryURL and returns once the backend accepted it.
// Each call starts a new build with a fresh ID.
func (s Service) Dispatch(ctx context.Context, repositoryURL string) (*domain.BuildSession, error) {
	repositoryURL = strings.TrimSpace(repositoryURL)
	if repositoryURL == "" {
		s.outcomes.record(outcomeInvalid)
		return nil, ErrRepositoryURLRequired
	}

	id := s.ids.Generate()
	req := executor.NewJobRequest(id, repositoryURL, s.cfg.ExtraEnv)

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()
	if err := s.exec.Submit(submitCtx, req); err != nil {
		s.outcomes.record(outcomeFailed)
		s.logger.Error("build submit failed", "build_id", id, "repository", repositoryURL, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	session := &domain.BuildSession{
		ID:            id,
		RepositoryURL: repositoryURL,
		Status:        domain.SessionStatusQueued,
		ArtifactURL:   ArtifactURL(s.cfg.ArtifactBaseURL, id),
		Executor:      s.cfg.ExecutorName,
		CreatedAt:     s.now().UTC(),
	}
	if s.sessions != nil {
		if err := s.sessions.CreateSession(ctx, session); err != nil {
			s.logger.Warn("record build session failed", "build_id", id, "error", err)
		}
	}
	s.outcomes.record(outcomeQueued)
	s.logger.Info("build queued", "build_id", id, "repository", repositoryURL, "executor", s.cfg.ExecutorName)
	return session, nil
}

// Get returns a recorded session.
func (s Service) Get(ctx context.Context, id string) (*domain.BuildSession, error) {
	id = strings.TrimSpace(id)
	if id == "" || s.sessions == nil {
		return nil, repository.ErrNotFound
	}
	return s.sessions.GetSession(ctx, id)
}

// Recent lists the newest recorded sessions.
func (s Service) Recent(ctx context.Context, limit int) ([]domain.BuildSession, error) {
	if s.sessions == nil {
		return nil, nil
	}
	return s.sessions.ListRecentSessions(ctx, limit)
}

// ArtifactURL is where the builder publishes the site for id.
func ArtifactURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/" + id + "/index.html"
}
