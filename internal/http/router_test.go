package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/shipyard/internal/executor"
	"github.com/splax/shipyard/internal/pubsub"
	"github.com/splax/shipyard/internal/relay"
	"github.com/splax/shipyard/internal/repository/memory"
	"github.com/splax/shipyard/internal/service/dispatch"
	"github.com/splax/shipyard/internal/slug"
	"github.com/splax/shipyard/internal/ws"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExecutor) Submit(context.Context, executor.JobRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	broker *pubsub.Memory
	exec   *fakeExecutor
	api    *httptest.Server
	socket *httptest.Server
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := pubsub.NewMemory()
	rl := relay.New(broker, logger, relay.WithRegisterer(nil))
	require.NoError(t, rl.Start(context.Background()))

	repo := memory.New(time.Hour, time.Hour)
	exec := &fakeExecutor{}
	svc := dispatch.New(exec, repo, slug.New("words"), logger, dispatch.Config{
		ArtifactBaseURL: "http://localhost:8000/__outputs",
		ExecutorName:    "fake",
	})

	api := httptest.NewServer(NewRouter(logger, svc, rl, opts...).Handler())
	socket := httptest.NewServer(NewSocketServer(logger, rl, 16).Handler())
	t.Cleanup(func() {
		api.Close()
		socket.Close()
		_ = rl.Close()
		repo.Close()
		_ = broker.Close()
	})
	return &testEnv{broker: broker, exec: exec, api: api, socket: socket}
}

func (e *testEnv) postProject(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.api.URL+"/project", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.socket.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) (ws.Event, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	var evt ws.Event
	err := conn.ReadJSON(&evt)
	return evt, err
}

func subscribe(t *testing.T, conn *websocket.Conn, id string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ws.Event{Event: ws.EventSubscribe, Data: id}))
	evt, err := readEvent(t, conn, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, ws.Event{Event: ws.EventMessage, Data: "Joined " + id}, evt)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func TestCreateProjectQueuesBuild(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.postProject(t, `{"gitURL":"https://github.com/acme/site.git"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", payload["status"])

	data := payload["data"].(map[string]any)
	id := data["projectSlug"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, "http://localhost:8000/__outputs/"+id+"/index.html", data["url"])
	assert.Equal(t, 1, env.exec.count())

	get, err := http.Get(env.api.URL + "/project/" + id)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var session map[string]any
	require.NoError(t, json.NewDecoder(get.Body).Decode(&session))
	assert.Equal(t, "https://github.com/acme/site.git", session["data"].(map[string]any)["gitURL"])
}

func TestCreateProjectRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"gitURL":""}`, `{"gitURL":"   "}`, `{}`, `not json`, `{"gitURL":"x"} trailing`} {
		resp, payload := env.postProject(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.NotEmpty(t, payload["error"], body)
	}
	assert.Equal(t, 0, env.exec.count())
}

func TestCreateProjectExecutorFailure(t *testing.T) {
	env := newTestEnv(t)
	env.exec.err = errors.New("no capacity")

	resp, payload := env.postProject(t, `{"gitURL":"https://github.com/acme/site.git"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotEmpty(t, payload["error"])
}

func TestGetUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.api.URL + "/project/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatchThenStreamEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	_, payload := env.postProject(t, `{"gitURL":"https://github.com/acme/site.git"}`)
	id := payload["data"].(map[string]any)["projectSlug"].(string)

	viewer := env.dial(t, "/")
	subscribe(t, viewer, id)
	bystander := env.dial(t, "/ws")
	subscribe(t, bystander, "some-other-build")

	require.NoError(t, env.broker.Publish(context.Background(), "logs:"+id, []byte("Build started")))

	evt, err := readEvent(t, viewer, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ws.Event{Event: ws.EventMessage, Data: "Build started"}, evt)

	_, err = readEvent(t, viewer, 200*time.Millisecond)
	assert.True(t, isTimeout(err), "expected exactly one message, got %v", err)
	_, err = readEvent(t, bystander, 200*time.Millisecond)
	assert.True(t, isTimeout(err), "expected no message for other room, got %v", err)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws")
	subscribe(t, conn, "abc")

	require.NoError(t, conn.WriteJSON(ws.Event{Event: ws.EventUnsubscribe, Data: "abc"}))
	// A second subscribe round-trips through the read loop, so the unsubscribe has been applied.
	subscribe(t, conn, "other")

	require.NoError(t, env.broker.Publish(context.Background(), "logs:abc", []byte("late line")))
	_, err := readEvent(t, conn, 200*time.Millisecond)
	assert.True(t, isTimeout(err), "expected no delivery after unsubscribe, got %v", err)
}

func TestLogStreamSSE(t *testing.T) {
	env := newTestEnv(t, WithSSEHeartbeat(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.api.URL+"/logs/abc/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: Joined abc\n", line)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	require.NoError(t, env.broker.Publish(context.Background(), "logs:abc", []byte("Build complete")))
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: Build complete\n", line)
}

func TestHealthzReportsComponents(t *testing.T) {
	env := newTestEnv(t,
		WithHealthCheck("pubsub", func(context.Context) error { return nil }),
		WithHealthCheck("sessions", func(context.Context) error { return errors.New("down") }),
	)

	resp, err := http.Get(env.api.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "degraded", payload["status"])
	components := payload["components"].(map[string]any)
	assert.Equal(t, "up", components["pubsub"].(map[string]any)["status"])
	assert.Equal(t, "down", components["sessions"].(map[string]any)["status"])
	assert.Contains(t, components, "relay")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.postProject(t, `{"gitURL":"https://github.com/acme/site.git"}`)

	resp, err := http.Get(env.api.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "shipyard_api_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodOptions, env.api.URL+"/project", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestListProjectsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	_, first := env.postProject(t, `{"gitURL":"https://github.com/acme/one.git"}`)
	time.Sleep(5 * time.Millisecond)
	_, second := env.postProject(t, `{"gitURL":"https://github.com/acme/two.git"}`)

	resp, err := http.Get(env.api.URL + "/project?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Data, 1)
	assert.Equal(t, second["data"].(map[string]any)["projectSlug"], payload.Data[0]["projectSlug"])
	assert.NotEqual(t, first["data"].(map[string]any)["projectSlug"], payload.Data[0]["projectSlug"])
	assert.Equal(t, "queued", payload.Data[0]["status"])

	bad, err := http.Get(env.api.URL + "/project?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestLogStreamRejectsBlankSlug(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.api.URL + "/logs/%20/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEqual(t, "text/event-stream", resp.Header.Get("Content-Type"))
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "slug is required", payload["error"])
}
