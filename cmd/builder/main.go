package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/splax/shipyard/internal/builder"
	"github.com/splax/shipyard/internal/pubsub"
	"github.com/splax/shipyard/pkg/config"
	"github.com/splax/shipyard/pkg/logger"
)

func main() {
	cfg := config.LoadBuilderConfig()
	log := logger.New("builder", logger.ParseLevel(cfg.LogLevel)).With("build_id", cfg.ProjectID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := pubsub.Open(pubsub.OpenConfig{
		Kind:     cfg.PubSubTransport,
		RedisURL: cfg.RedisURL,
		NATSURL:  cfg.NATSURL,
		Name:     "shipyard-builder",
	})
	if err != nil {
		log.Error("failed to connect pubsub", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	uploader, err := builder.NewS3Uploader(ctx, cfg.AWSRegion, cfg.ArtifactBucket)
	if err != nil {
		log.Error("failed to configure artifact upload", "error", err)
		os.Exit(1)
	}

	workspace, err := builder.NewWorkspace(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
		os.Exit(1)
	}

	b := builder.New(builder.Config{
		RepositoryURL:  cfg.RepositoryURL,
		ProjectID:      cfg.ProjectID,
		BuildCommand:   cfg.BuildCommand,
		OutputDir:      cfg.OutputDir,
		ArtifactPrefix: cfg.ArtifactPrefix,
		GitTimeout:     cfg.GitTimeout,
		BuildTimeout:   cfg.BuildTimeout,
	}, transport, uploader, workspace, log)

	if err := b.Run(ctx); err != nil {
		log.Error("build failed", "error", err)
		transport.Close()
		os.Exit(1)
	}
	log.Info("build finished")
}
