// Package builder is the program a build container runs: it clones the repository, runs
// the build, uploads the output and reports progress on the build's log channel.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/splax/shipyard/internal/logchannel"
	"github.com/splax/shipyard/internal/pubsub"
)

const publishTimeout = 2 * time.Second

// Progress lines published on the log channel.
const (
	MessageStarted  = "Build started"
	MessageComplete = "Build complete"
	MessageDone     = "Done"
	errorPrefix     = "error: "
)

// ErrMissingInput is returned when the repository URL or project ID is unset.
var ErrMissingInput = errors.New("builder: GIT_REPOSITORY_URL and PROJECT_ID are required")

// Config selects what to build and where the output goes.
type Config struct {
	RepositoryURL  string
	ProjectID      string
	BuildCommand   string
	OutputDir      string
	ArtifactPrefix string
	GitTimeout     time.Duration
	BuildTimeout   time.Duration
	Env            []string
}

// CloneFunc fetches a repository into dest.
type CloneFunc func(ctx context.Context, repoURL, dest string, progress io.Writer) error

// Builder runs one build.
type Builder struct {
	cfg       Config
	publisher pubsub.Publisher
	uploader  Uploader
	workspace *Workspace
	clone     CloneFunc
	logger    *slog.Logger
}

// New constructs a builder.
func New(cfg Config, publisher pubsub.Publisher, uploader Uploader, workspace *Workspace, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:       cfg,
		publisher: publisher,
		uploader:  uploader,
		workspace: workspace,
		clone:     Clone,
		logger:    logger,
	}
}

// Run executes the build. Failures are published as "error: ..." before being returned.
func (b *Builder) Run(ctx context.Context) error {
	if strings.TrimSpace(b.cfg.RepositoryURL) == "" || strings.TrimSpace(b.cfg.ProjectID) == "" {
		return ErrMissingInput
	}
	if err := b.run(ctx); err != nil {
		b.publish(ctx, errorPrefix+err.Error())
		return err
	}
	return nil
}

func (b *Builder) run(ctx context.Context) error {
	b.publish(ctx, MessageStarted)

	dir, err := b.workspace.Prepare(b.cfg.ProjectID)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.workspace.Cleanup(dir); err != nil {
			b.logger.Warn("workspace cleanup failed", "dir", dir, "error", err)
		}
	}()

	agg := newLogAggregator(func(line string) { b.publish(ctx, line) })

	cloneCtx, cancelClone := withOptionalTimeout(ctx, b.cfg.GitTimeout)
	progress := newLineWriter(agg.Add)
	err = b.clone(cloneCtx, b.cfg.RepositoryURL, dir, progress)
	_ = progress.Close()
	cancelClone()
	agg.Flush()
	if err != nil {
		return err
	}

	buildCtx, cancelBuild := withOptionalTimeout(ctx, b.cfg.BuildTimeout)
	err = RunCommand(buildCtx, dir, b.cfg.BuildCommand, b.cfg.Env, agg.Add)
	cancelBuild()
	agg.Flush()
	if err != nil {
		for _, line := range agg.Snapshot(10) {
			b.logger.Info("build output", "line", line)
		}
		return err
	}
	b.publish(ctx, MessageComplete)

	outputDir := filepath.Join(dir, filepath.FromSlash(b.cfg.OutputDir))
	prefix := path.Join(b.cfg.ArtifactPrefix, b.cfg.ProjectID)
	count, err := UploadDir(ctx, b.uploader, outputDir, prefix, func(line string) { b.publish(ctx, line) })
	if err != nil {
		return fmt.Errorf("upload artifacts: %w", err)
	}
	b.logger.Info("artifacts uploaded", "files", count, "prefix", prefix)
	b.publish(ctx, MessageDone)
	return nil
}

// publish sends line to the build's log channel. Delivery failures are logged only.
func (b *Builder) publish(ctx context.Context, line string) {
	b.logger.Info(line, "build_id", b.cfg.ProjectID)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := b.publisher.Publish(pubCtx, logchannel.Name(b.cfg.ProjectID), []byte(line)); err != nil {
		b.logger.Warn("publish log failed", "build_id", b.cfg.ProjectID, "error", err)
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
