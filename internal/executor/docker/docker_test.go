package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/shipyard/internal/executor"
)

type fakeDocker struct {
	configs   []*container.Config
	host      *container.HostConfig
	name      string
	started   []string
	removed   []string
	removeOpt container.RemoveOptions
	pulled    []string
	missing   bool
	createErr error
	startErr  error
	removeErr error
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.configs = append(f.configs, cfg)
	f.host = host
	f.name = name
	if f.missing {
		return container.CreateResponse{}, errdefs.NotFound(errors.New("no such image"))
	}
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: "c-1"}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	f.removeOpt = opts
	return f.removeErr
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	f.missing = false
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func TestSubmitStartsAutoRemovedContainer(t *testing.T) {
	api := &fakeDocker{}
	exec := newWithAPI(api, Config{Image: "shipyard/builder:latest", Network: "builds"})

	req := executor.NewJobRequest("Brave-Otter", "https://github.com/acme/site.git", map[string]string{"NODE_ENV": "production"})
	require.NoError(t, exec.Submit(context.Background(), req))

	require.Len(t, api.configs, 1)
	cfg := api.configs[0]
	assert.Equal(t, "shipyard/builder:latest", cfg.Image)
	assert.Contains(t, cfg.Env, "GIT_REPOSITORY_URL=https://github.com/acme/site.git")
	assert.Contains(t, cfg.Env, "PROJECT_ID=Brave-Otter")
	assert.Contains(t, cfg.Env, "NODE_ENV=production")
	assert.Equal(t, "Brave-Otter", cfg.Labels[buildLabel])
	assert.True(t, api.host.AutoRemove)
	assert.Equal(t, container.NetworkMode("builds"), api.host.NetworkMode)
	assert.Equal(t, "shipyard-build-brave-otter", api.name)
	assert.Equal(t, []string{"c-1"}, api.started)
}

func TestSubmitPullsMissingImage(t *testing.T) {
	api := &fakeDocker{missing: true}
	exec := newWithAPI(api, Config{Image: "shipyard/builder:latest"})

	require.NoError(t, exec.Submit(context.Background(), executor.NewJobRequest("a", "u", nil)))
	assert.Equal(t, []string{"shipyard/builder:latest"}, api.pulled)
	assert.Len(t, api.configs, 2)
	assert.Equal(t, []string{"c-1"}, api.started)
}

func TestSubmitPropagatesErrors(t *testing.T) {
	boom := errors.New("daemon down")

	exec := newWithAPI(&fakeDocker{createErr: boom}, Config{Image: "img"})
	assert.ErrorIs(t, exec.Submit(context.Background(), executor.NewJobRequest("a", "u", nil)), boom)

	exec = newWithAPI(&fakeDocker{startErr: boom}, Config{Image: "img"})
	assert.ErrorIs(t, exec.Submit(context.Background(), executor.NewJobRequest("a", "u", nil)), boom)
}

func TestSubmitRemovesContainerThatFailedToStart(t *testing.T) {
	boom := errors.New("port already allocated")
	api := &fakeDocker{startErr: boom}
	exec := newWithAPI(api, Config{Image: "img"})

	err := exec.Submit(context.Background(), executor.NewJobRequest("a", "u", nil))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"c-1"}, api.removed)
	assert.True(t, api.removeOpt.Force)
}

func TestSubmitReportsFailedCleanup(t *testing.T) {
	api := &fakeDocker{startErr: errors.New("no start"), removeErr: errors.New("no remove")}
	exec := newWithAPI(api, Config{Image: "img"})

	err := exec.Submit(context.Background(), executor.NewJobRequest("a", "u", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start")
	assert.Contains(t, err.Error(), "no remove")
}

func TestSubmitDoesNotRemoveStartedContainer(t *testing.T) {
	api := &fakeDocker{}
	exec := newWithAPI(api, Config{Image: "img"})
	require.NoError(t, exec.Submit(context.Background(), executor.NewJobRequest("a", "u", nil)))
	assert.Empty(t, api.removed)
}

func TestNewRequiresImage(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
