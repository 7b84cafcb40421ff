package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/shipyard/internal/pubsub"
	"github.com/splax/shipyard/internal/ws"
)

type recorder struct {
	mu     sync.Mutex
	rooms  []string
	lines  []string
	closed bool
}

func (r *recorder) Send(room string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ws.ErrClientClosed
	}
	r.rooms = append(r.rooms, room)
	r.lines = append(r.lines, string(payload))
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func newTestRelay(t *testing.T, transport pubsub.Subscriber) *Relay {
	t.Helper()
	r := New(transport, slog.New(slog.NewTextHandler(io.Discard, nil)), WithRegisterer(nil))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitFor(t *testing.T, rec *recorder, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(rec.received()) >= n }, 2*time.Second, 5*time.Millisecond)
	return rec.received()
}

func TestJoinAcknowledgesOnlyThatClient(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	a, b := &recorder{}, &recorder{}
	require.NoError(t, r.Join("x", a))
	require.NoError(t, r.Join("x", b))

	assert.Equal(t, []string{"Joined x"}, a.received())
	assert.Equal(t, []string{"Joined x"}, b.received())
	assert.Equal(t, []string{""}, a.rooms)
}

func TestJoinTwiceKeepsOneMembership(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	a := &recorder{}
	require.NoError(t, r.Join("x", a))
	require.NoError(t, r.Join("x", a))

	assert.Equal(t, 1, r.Forward("logs:x", []byte("line")))
	assert.Equal(t, ws.Stats{Rooms: 1, Clients: 1}, r.Stats())
}

func TestJoinRejectsBlankID(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	assert.ErrorIs(t, r.Join("  ", &recorder{}), ErrBuildIDRequired)
	assert.ErrorIs(t, r.Leave("", &recorder{}), ErrBuildIDRequired)
}

func TestNoCrossTalkBetweenRooms(t *testing.T) {
	broker := pubsub.NewMemory()
	r := newTestRelay(t, broker)
	require.NoError(t, r.Start(context.Background()))

	a, b := &recorder{}, &recorder{}
	require.NoError(t, r.Join("x", a))
	require.NoError(t, r.Join("y", b))

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, broker.Publish(ctx, "logs:x", []byte(fmt.Sprintf("x-%d", i))))
		require.NoError(t, broker.Publish(ctx, "logs:y", []byte(fmt.Sprintf("y-%d", i))))
	}

	gotA := waitFor(t, a, 21)
	gotB := waitFor(t, b, 21)
	for _, line := range gotA[1:] {
		assert.Regexp(t, `^x-\d+$`, line)
	}
	for _, line := range gotB[1:] {
		assert.Regexp(t, `^y-\d+$`, line)
	}
}

func TestForwardWithoutMembersIsSilent(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	bystander := &recorder{}
	require.NoError(t, r.Join("other", bystander))

	assert.Equal(t, 0, r.Forward("logs:nobody", []byte("lost")))
	assert.Equal(t, 0, r.Forward("metrics:other", []byte("wrong channel")))
	assert.Equal(t, 0, r.Forward("logs:", []byte("empty id")))
	assert.Equal(t, []string{"Joined other"}, bystander.received())
}

func TestSameChannelOrderPreserved(t *testing.T) {
	broker := pubsub.NewMemory()
	r := newTestRelay(t, broker)
	require.NoError(t, r.Start(context.Background()))

	a := &recorder{}
	require.NoError(t, r.Join("x", a))

	want := []string{"Joined x"}
	for i := 0; i < 200; i++ {
		line := fmt.Sprintf("line %03d", i)
		want = append(want, line)
		require.NoError(t, broker.Publish(context.Background(), "logs:x", []byte(line)))
	}
	assert.Equal(t, want, waitFor(t, a, len(want)))
}

func TestLateJoinerSeesNoReplay(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	early, late := &recorder{}, &recorder{}
	require.NoError(t, r.Join("x", early))
	r.Forward("logs:x", []byte("before"))
	require.NoError(t, r.Join("x", late))
	r.Forward("logs:x", []byte("after"))

	assert.Equal(t, []string{"Joined x", "before", "after"}, early.received())
	assert.Equal(t, []string{"Joined x", "after"}, late.received())
}

func TestDisconnectRemovesFromAllRooms(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	a, b := &recorder{}, &recorder{}
	require.NoError(t, r.Join("x", a))
	require.NoError(t, r.Join("y", a))
	require.NoError(t, r.Join("y", b))

	r.Disconnect(a)
	assert.Equal(t, ws.Stats{Rooms: 1, Clients: 1}, r.Stats())

	assert.Equal(t, 0, r.Forward("logs:x", []byte("x")))
	assert.Equal(t, 1, r.Forward("logs:y", []byte("y")))
	assert.Equal(t, []string{"Joined x", "Joined y"}, a.received())
}

func TestLeaveStopsDelivery(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	a := &recorder{}
	require.NoError(t, r.Join("x", a))
	require.NoError(t, r.Leave("x", a))
	require.NoError(t, r.Leave("x", a))

	assert.Equal(t, 0, r.Forward("logs:x", []byte("gone")))
	assert.Equal(t, ws.Stats{}, r.Stats())
}

func TestClosedClientIsEvicted(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	a := &recorder{}
	require.NoError(t, r.Join("x", a))
	a.Close()

	assert.Equal(t, 0, r.Forward("logs:x", []byte("line")))
	assert.Equal(t, ws.Stats{}, r.Stats())
}

func TestStartTwiceFails(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
}

type failingSubscriber struct{}

func (failingSubscriber) PSubscribe(context.Context, string) (pubsub.Subscription, error) {
	return nil, errors.New("boom")
}

func TestStartSurfacesSubscribeError(t *testing.T) {
	r := newTestRelay(t, failingSubscriber{})
	require.Error(t, r.Start(context.Background()))
}

func TestCloseClosesClients(t *testing.T) {
	broker := pubsub.NewMemory()
	r := New(broker, slog.New(slog.NewTextHandler(io.Discard, nil)), WithRegisterer(nil))
	require.NoError(t, r.Start(context.Background()))
	a := &recorder{}
	require.NoError(t, r.Join("x", a))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, a.closed)
	assert.Equal(t, ws.Stats{}, r.Stats())
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
}

// racingRooms forwards a line right after the membership is recorded, standing in for the
// bridge goroutine winning the race against the joining client.
type racingRooms struct {
	*ws.Hub
	relay *Relay
}

func (rr *racingRooms) Join(room string, client ws.Subscriber) bool {
	added := rr.Hub.Join(room, client)
	rr.relay.Forward("logs:"+room, []byte("Build started"))
	return added
}

func TestJoinAcknowledgementPrecedesForwardedLines(t *testing.T) {
	rooms := &racingRooms{Hub: ws.NewHub()}
	r := New(pubsub.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithRegisterer(nil), WithRooms(rooms))
	rooms.relay = r
	t.Cleanup(func() { _ = r.Close() })

	a := &recorder{}
	require.NoError(t, r.Join("x", a))
	assert.Equal(t, []string{"Joined x", "Build started"}, a.received())
}

func TestJoinAfterCloseIsRejected(t *testing.T) {
	r := New(pubsub.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)), WithRegisterer(nil))
	require.NoError(t, r.Close())

	a := &recorder{}
	assert.ErrorIs(t, r.Join("x", a), ErrClosed)
	assert.Empty(t, a.received())
	assert.Equal(t, ws.Stats{}, r.Stats())
}

func TestJoinFailsWhenAcknowledgementCannotBeQueued(t *testing.T) {
	r := newTestRelay(t, pubsub.NewMemory())
	a := &recorder{}
	a.Close()

	assert.ErrorIs(t, r.Join("x", a), ws.ErrClientClosed)
	assert.Equal(t, ws.Stats{}, r.Stats())
}
