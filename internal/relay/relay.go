// Package relay bridges the log pub/sub transport to websocket and SSE rooms. A Relay owns
// one pattern subscription and one room table; several can run side by side.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/shipyard/internal/logchannel"
	"github.com/splax/shipyard/internal/pubsub"
	"github.com/splax/shipyard/internal/ws"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("relay: already started")
	// ErrBuildIDRequired is returned when joining or leaving a blank build ID.
	ErrBuildIDRequired = errors.New("relay: build id required")
	// ErrClosed is returned by Join once the relay has been closed.
	ErrClosed = errors.New("relay: closed")
)

// JoinedPrefix starts the acknowledgement sent to a client after it joins a room.
const JoinedPrefix = "Joined "

// Relay forwards every message published on logs:{id} to the members of room id.
type Relay struct {
	sub     pubsub.Subscriber
	rooms   ws.Rooms
	log     *slog.Logger
	metrics *metrics

	mu      sync.RWMutex
	active  pubsub.Subscription
	stopped chan struct{}
	closed  bool
}

// Option customises a Relay.
type Option func(*options)

type options struct {
	rooms ws.Rooms
	reg   prometheus.Registerer
}

// WithRooms substitutes the membership table.
func WithRooms(rooms ws.Rooms) Option {
	return func(o *options) { o.rooms = rooms }
}

// WithRegisterer registers relay metrics on reg instead of the default registry. A nil
// registerer disables registration.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// New constructs a relay reading from sub.
func New(sub pubsub.Subscriber, logger *slog.Logger, opts ...Option) *Relay {
	o := options{reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rooms == nil {
		o.rooms = ws.NewHub()
	}
	return &Relay{
		sub:     sub,
		rooms:   o.rooms,
		log:     logger,
		metrics: newMetrics(o.reg),
	}
}

// Start subscribes to the log channel pattern and forwards messages on a single goroutine
// until Close is called or the subscription ends.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.active != nil {
		return ErrAlreadyStarted
	}
	sub, err := r.sub.PSubscribe(ctx, logchannel.Pattern)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", logchannel.Pattern, err)
	}
	r.active = sub
	r.stopped = make(chan struct{})
	go r.bridge(sub, r.stopped)
	r.log.Info("relay subscribed", "pattern", logchannel.Pattern)
	return nil
}

func (r *Relay) bridge(sub pubsub.Subscription, stopped chan struct{}) {
	defer close(stopped)
	for msg := range sub.Messages() {
		r.Forward(msg.Channel, msg.Payload)
	}
	r.log.Debug("relay subscription ended")
}

// Forward queues payload for every current member of the room named by channel and
// returns how many members it reached. Channels outside the log convention are ignored.
func (r *Relay) Forward(channel string, payload []byte) int {
	buildID, ok := logchannel.BuildID(channel)
	if !ok {
		r.metrics.dropped.WithLabelValues(dropBadChannel).Inc()
		r.log.Debug("relay ignored channel", "channel", channel)
		return 0
	}
	d := r.rooms.Broadcast(buildID, payload)
	if d.Delivered+d.Dropped+d.Closed == 0 {
		r.metrics.dropped.WithLabelValues(dropNoMembers).Inc()
		return 0
	}
	r.metrics.forwarded.Add(float64(d.Delivered))
	if d.Dropped > 0 {
		r.metrics.dropped.WithLabelValues(dropSlowConsumer).Add(float64(d.Dropped))
		r.log.Warn("relay dropped payload for slow clients", "build_id", buildID, "clients", d.Dropped)
	}
	if d.Closed > 0 {
		r.metrics.observe(r.rooms.Stats())
	}
	return d.Delivered
}

// Join acknowledges buildID to client, then adds it to the room. The acknowledgement is
// queued first so it precedes every forwarded line. Joining twice keeps a single membership.
func (r *Relay) Join(buildID string, client ws.Subscriber) error {
	buildID = strings.TrimSpace(buildID)
	if buildID == "" {
		return ErrBuildIDRequired
	}
	// Held across the join so Close cannot empty the table in between.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	if err := client.Send("", []byte(JoinedPrefix+buildID)); err != nil {
		return fmt.Errorf("acknowledge join: %w", err)
	}
	r.metrics.joins.Inc()
	if r.rooms.Join(buildID, client) {
		r.log.Debug("client joined room", "build_id", buildID)
		r.metrics.observe(r.rooms.Stats())
	}
	return nil
}

// Leave removes client from the room for buildID.
func (r *Relay) Leave(buildID string, client ws.Subscriber) error {
	buildID = strings.TrimSpace(buildID)
	if buildID == "" {
		return ErrBuildIDRequired
	}
	if r.rooms.Leave(buildID, client) {
		r.log.Debug("client left room", "build_id", buildID)
		r.metrics.observe(r.rooms.Stats())
	}
	return nil
}

// Disconnect removes client from every room it joined.
func (r *Relay) Disconnect(client ws.Subscriber) {
	if left := r.rooms.Remove(client); len(left) > 0 {
		r.log.Debug("client disconnected", "rooms", left)
		r.metrics.observe(r.rooms.Stats())
	}
}

// Stats reports the current room table size.
func (r *Relay) Stats() ws.Stats {
	return r.rooms.Stats()
}

// Close ends the subscription, waits for the bridge goroutine and closes every client.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub, stopped := r.active, r.stopped
	r.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
		<-stopped
	}
	r.rooms.CloseAll()
	r.metrics.observe(ws.Stats{})
	return err
}
