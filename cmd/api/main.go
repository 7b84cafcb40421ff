package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splax/shipyard/internal/app/migrate"
	"github.com/splax/shipyard/internal/executor"
	"github.com/splax/shipyard/internal/executor/docker"
	"github.com/splax/shipyard/internal/executor/ecs"
	"github.com/splax/shipyard/internal/executor/kubernetes"
	httpx "github.com/splax/shipyard/internal/http"
	"github.com/splax/shipyard/internal/pubsub"
	"github.com/splax/shipyard/internal/relay"
	"github.com/splax/shipyard/internal/repository"
	"github.com/splax/shipyard/internal/repository/memory"
	"github.com/splax/shipyard/internal/repository/postgres"
	"github.com/splax/shipyard/internal/service/dispatch"
	"github.com/splax/shipyard/internal/slug"
	"github.com/splax/shipyard/pkg/config"
	"github.com/splax/shipyard/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, log *slog.Logger) error {
	transport, err := pubsub.Open(pubsub.OpenConfig{
		Kind:     cfg.PubSubTransport,
		RedisURL: cfg.RedisURL,
		NATSURL:  cfg.NATSURL,
		Name:     "shipyard-api",
	})
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	defer transport.Close()

	sessions, sessionsHealth, closeSessions, err := openSessions(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	exec, err := newExecutor(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := exec.(io.Closer); ok {
		defer c.Close()
	}

	rl := relay.New(transport, log)
	if err := rl.Start(ctx); err != nil {
		return err
	}
	defer rl.Close()

	svc := dispatch.New(exec, sessions, slug.New(cfg.SlugStyle), log, dispatch.Config{
		ArtifactBaseURL: cfg.ArtifactBaseURL,
		ExecutorName:    cfg.Executor,
		SubmitTimeout:   cfg.DispatchTimeout,
		ExtraEnv:        executor.ParseEnv(cfg.BuilderEnv),
	})

	router := httpx.NewRouter(log, svc, rl,
		httpx.WithQueueSize(cfg.LogBuffer),
		httpx.WithHealthCheck("pubsub", transport.Ping),
		httpx.WithHealthCheck("sessions", sessionsHealth),
	)
	socket := httpx.NewSocketServer(log, rl, cfg.LogBuffer)

	servers := []*http.Server{
		{Addr: cfg.Addr, Handler: router.Handler(), ReadHeaderTimeout: 5 * time.Second},
		{Addr: cfg.SocketAddr, Handler: socket.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}

	errorCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("server starting", "addr", srv.Addr)
			errorCh <- srv.ListenAndServe()
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	// Streaming handlers only return once their clients are closed.
	if err := rl.Close(); err != nil {
		log.Warn("relay close failed", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
	log.Info("api server stopped")
	return serveErr
}

// openSessions uses PostgreSQL when DATABASE_URL is set and process memory otherwise.
func openSessions(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.SessionRepository, httpx.HealthCheck, func(), error) {
	if cfg.DatabaseURL == "" {
		repo := memory.New(cfg.SessionTTL, 0)
		log.Info("session store", "backend", "memory", "ttl", cfg.SessionTTL)
		return repo, func(context.Context) error { return nil }, repo.Close, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("configure migrations: %w", err)
	}
	defer runner.Close()
	if err := runner.Ensure(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	repo := postgres.New(pool)
	log.Info("session store", "backend", "postgres")
	return repo, repo.Ping, pool.Close, nil
}

func newExecutor(ctx context.Context, cfg config.APIConfig) (executor.Executor, error) {
	switch cfg.Executor {
	case config.ExecutorECS:
		return ecs.New(ctx, ecs.Config{
			Region:         cfg.AWSRegion,
			Cluster:        cfg.ECSCluster,
			TaskDefinition: cfg.ECSTaskDefinition,
			ContainerName:  cfg.ECSContainerName,
			Subnets:        cfg.ECSSubnets,
			SecurityGroups: cfg.ECSSecurityGroups,
			AssignPublicIP: cfg.ECSAssignPublicIP,
		})
	case config.ExecutorDocker:
		return docker.New(docker.Config{
			Host:    cfg.DockerHost,
			Image:   cfg.BuilderImage,
			Network: cfg.DockerNetwork,
		})
	case config.ExecutorKubernetes:
		return kubernetes.New(kubernetes.Config{
			Namespace: cfg.K8sNamespace,
			Image:     cfg.BuilderImage,
			TTL:       cfg.K8sJobTTL,
		})
	default:
		return nil, fmt.Errorf("unknown executor %q", cfg.Executor)
	}
}
