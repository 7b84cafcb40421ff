// Package docker runs build jobs as containers on a Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/splax/shipyard/internal/executor"
)

const (
	buildLabel    = "shipyard.dev/build-id"
	removeTimeout = 10 * time.Second
)

// containerAPI is the slice of the Docker client the executor uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Config selects the builder image and network.
type Config struct {
	Host    string
	Image   string
	Network string
}

// Executor starts one auto-removed container per job.
type Executor struct {
	api   containerAPI
	cfg   Config
	close func() error
}

var _ executor.Executor = (*Executor)(nil)

// New creates a Docker client using environment defaults.
func New(cfg Config) (*Executor, error) {
	if strings.TrimSpace(cfg.Image) == "" {
		return nil, fmt.Errorf("docker executor: builder image required")
	}
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	e := newWithAPI(inner, cfg)
	e.close = inner.Close
	return e, nil
}

func newWithAPI(api containerAPI, cfg Config) *Executor {
	return &Executor{api: api, cfg: cfg}
}

// Submit creates and starts the builder container. A missing image is pulled once.
func (e *Executor) Submit(ctx context.Context, req executor.JobRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	config := &container.Config{
		Image:  e.cfg.Image,
		Env:    req.EnvPairs(),
		Labels: map[string]string{buildLabel: req.BuildID},
	}
	hostCfg := &container.HostConfig{AutoRemove: true}
	if e.cfg.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(e.cfg.Network)
	}
	name := containerName(req.BuildID)

	created, err := e.api.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if errdefs.IsNotFound(err) {
		if pullErr := e.pull(ctx); pullErr != nil {
			return pullErr
		}
		created, err = e.api.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	}
	if err != nil {
		return fmt.Errorf("container create: %w", err)
	}
	if err := e.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// AutoRemove only fires after a container has run, so a failed start leaves it behind.
		if rmErr := e.remove(ctx, created.ID); rmErr != nil {
			return fmt.Errorf("container start: %w (cleanup: %v)", err, rmErr)
		}
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

func (e *Executor) remove(ctx context.Context, id string) error {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	return e.api.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
}

func (e *Executor) pull(ctx context.Context) error {
	rc, err := e.api.ImagePull(ctx, e.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull %s: %w", e.cfg.Image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("image pull %s: %w", e.cfg.Image, err)
	}
	return nil
}

// Close releases the Docker client.
func (e *Executor) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}

func containerName(buildID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(buildID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "shipyard-build-" + b.String()
}
