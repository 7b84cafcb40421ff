package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/shipyard/internal/executor"
	httpx "github.com/splax/shipyard/internal/http"
	"github.com/splax/shipyard/internal/pubsub"
	"github.com/splax/shipyard/internal/relay"
	"github.com/splax/shipyard/internal/repository/memory"
	"github.com/splax/shipyard/internal/service/dispatch"
	"github.com/splax/shipyard/internal/slug"
	"github.com/splax/shipyard/pkg/api/client"
)

type stack struct {
	broker *pubsub.Memory
	client *client.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := pubsub.NewMemory()
	rl := relay.New(broker, logger, relay.WithRegisterer(nil))
	require.NoError(t, rl.Start(context.Background()))
	repo := memory.New(time.Hour, time.Hour)
	exec := executor.Func(func(context.Context, executor.JobRequest) error { return nil })
	svc := dispatch.New(exec, repo, slug.New("ulid"), logger, dispatch.Config{
		ArtifactBaseURL: "http://cdn.local/__outputs",
		ExecutorName:    "fake",
	})

	api := httptest.NewServer(httpx.NewRouter(logger, svc, rl).Handler())
	socket := httptest.NewServer(httpx.NewSocketServer(logger, rl, 16).Handler())
	t.Cleanup(func() {
		api.Close()
		socket.Close()
		_ = rl.Close()
		repo.Close()
		_ = broker.Close()
	})

	cli, err := client.New(api.URL, client.WithSocketURL("ws"+strings.TrimPrefix(socket.URL, "http")+"/ws"))
	require.NoError(t, err)
	return &stack{broker: broker, client: cli}
}

func TestDispatchAndSession(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	dep, err := s.client.Dispatch(ctx, "https://github.com/acme/site.git")
	require.NoError(t, err)
	assert.Equal(t, "queued", dep.Status)
	assert.Equal(t, "http://cdn.local/__outputs/"+dep.Slug+"/index.html", dep.URL)

	session, err := s.client.Session(ctx, dep.Slug)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/site.git", session.GitURL)
	assert.Equal(t, "fake", session.Executor)
	assert.False(t, session.CreatedAt.IsZero())
}

func TestRecent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	dep, err := s.client.Dispatch(ctx, "https://github.com/acme/site.git")
	require.NoError(t, err)

	sessions, err := s.client.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, dep.Slug, sessions[0].Slug)
	assert.Equal(t, "queued", sessions[0].Status)
}

func TestDispatchRejected(t *testing.T) {
	s := newStack(t)
	_, err := s.client.Dispatch(context.Background(), " ")
	var apiErr client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "gitURL is required", apiErr.Message)
}

func TestSessionNotFound(t *testing.T) {
	s := newStack(t)
	_, err := s.client.Session(context.Background(), "missing")
	assert.True(t, client.IsNotFound(err))
}

func TestTailLogs(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lines := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.client.TailLogs(ctx, "abc", func(line string) { lines <- line })
	}()

	select {
	case line := <-lines:
		assert.Equal(t, "Joined abc", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no join acknowledgement")
	}
	require.NoError(t, s.broker.Publish(ctx, "logs:abc", []byte("Build started")))
	select {
	case line := <-lines:
		assert.Equal(t, "Build started", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no log line")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("TailLogs did not return after cancel")
	}
}
