package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/shipyard/internal/domain"
	"github.com/splax/shipyard/internal/relay"
	"github.com/splax/shipyard/internal/repository"
	"github.com/splax/shipyard/internal/service/dispatch"
	"github.com/splax/shipyard/internal/ws"
)

const (
	healthCheckTimeout  = 2 * time.Second
	defaultSSEHeartbeat = 15 * time.Second
	defaultListLimit    = 20
	maxListLimit        = 100
)

// Dispatcher queues builds and looks up recorded sessions.
type Dispatcher interface {
	Dispatch(ctx context.Context, repositoryURL string) (*domain.BuildSession, error)
	Get(ctx context.Context, id string) (*domain.BuildSession, error)
	Recent(ctx context.Context, limit int) ([]domain.BuildSession, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(context.Context) error

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	dispatch     Dispatcher
	relay        *relay.Relay
	checks       map[string]HealthCheck
	queueSize    int
	sseHeartbeat time.Duration
}

// Option customises a Router.
type Option func(*Router)

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(r *Router) { r.checks[name] = check }
}

// WithQueueSize sets the outbound queue length of streaming clients.
func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithSSEHeartbeat sets the interval between SSE keep-alive comments.
func WithSSEHeartbeat(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.sseHeartbeat = d
		}
	}
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, dispatcher Dispatcher, rl *relay.Relay, opts ...Option) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		logger:       logger,
		dispatch:     dispatcher,
		relay:        rl,
		checks:       make(map[string]HealthCheck),
		queueSize:    ws.DefaultQueueSize,
		sseHeartbeat: defaultSSEHeartbeat,
	}
	for _, opt := range opts {
		opt(r)
	}
	initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handler returns the router wrapped with permissive CORS.
func (r *Router) Handler() http.Handler {
	return withCORS(r)
}

func (r *Router) register() {
	r.handle("POST /project", r.handleCreateProject)
	r.handle("GET /project", r.handleListProjects)
	r.handle("GET /project/{slug}", r.handleGetProject)
	r.handle("GET /logs/{slug}/stream", r.handleLogStream)
	r.handle("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.Handler())
}

func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, audit(r.logger, pattern, h))
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		GitURL string `json:"gitURL"`
	}
	if err := readJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.dispatch.Dispatch(req.Context(), payload.GitURL)
	switch {
	case errors.Is(err, dispatch.ErrRepositoryURLRequired):
		writeError(w, http.StatusBadRequest, "gitURL is required")
		return
	case errors.Is(err, dispatch.ErrSubmitFailed):
		writeError(w, http.StatusBadGateway, "failed to start build")
		return
	case err != nil:
		r.logger.Error("dispatch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": domain.SessionStatusQueued,
		"data": map[string]string{
			"projectSlug": session.ID,
			"url":         session.ArtifactURL,
		},
	})
}

func (r *Router) handleGetProject(w http.ResponseWriter, req *http.Request) {
	session, err := r.dispatch.Get(req.Context(), req.PathValue("slug"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		r.logger.Error("session lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": session.Status,
		"data":   sessionView(*session),
	})
}

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	limit := defaultListLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	sessions, err := r.dispatch.Recent(req.Context(), limit)
	if err != nil {
		r.logger.Error("session list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		item := sessionView(session)
		item["status"] = session.Status
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

func sessionView(session domain.BuildSession) map[string]any {
	return map[string]any{
		"projectSlug": session.ID,
		"url":         session.ArtifactURL,
		"gitURL":      session.RepositoryURL,
		"executor":    session.Executor,
		"createdAt":   session.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r *Router) handleLogStream(w http.ResponseWriter, req *http.Request) {
	buildID := strings.TrimSpace(req.PathValue("slug"))
	if buildID == "" {
		writeError(w, http.StatusBadRequest, "slug is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger, r.queueSize)
	if err := r.relay.Join(buildID, client); err != nil {
		r.logger.Warn("sse join failed", "build_id", buildID, "error", err)
		return
	}
	defer func() {
		r.relay.Disconnect(client)
		client.Close()
	}()
	if err := client.Run(req.Context(), r.sseHeartbeat); err != nil {
		r.logger.Debug("sse stream ended", "build_id", buildID, "error", err)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]any, len(names)+1)
	status := "ok"
	for _, name := range names {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := r.checks[name](ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	stats := r.relay.Stats()
	components["relay"] = map[string]any{
		"status":  "up",
		"rooms":   stats.Rooms,
		"clients": stats.Clients,
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func withCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
