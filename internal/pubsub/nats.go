package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS is a Transport backed by core NATS subjects. Channel "logs:X" travels as subject
// "logs.X" and the pattern "logs:*" subscribes to "logs.>".
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to url and keeps reconnecting forever on connection loss.
func NewNATS(url, name string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn}, nil
}

// NewNATSFromConn wraps an existing connection.
func NewNATSFromConn(conn *nats.Conn) *NATS {
	return &NATS{conn: conn}
}

// PSubscribe subscribes to every subject matching the translated pattern.
func (n *NATS) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	sub := &natsSubscription{
		out:  make(chan Message),
		done: make(chan struct{}),
	}
	inner, err := n.conn.Subscribe(subjectPattern(pattern), sub.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	sub.inner = inner
	if err := n.conn.FlushWithContext(ctx); err != nil {
		_ = inner.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", pattern, err)
	}
	return sub, nil
}

// Publish sends payload to the subject derived from channel.
func (n *NATS) Publish(_ context.Context, channel string, payload []byte) error {
	if err := n.conn.Publish(subjectFor(channel), payload); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Ping round-trips to the server.
func (n *NATS) Ping(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Close drains nothing and closes the connection.
func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

// subjectFor maps the first ':' of a channel to the NATS token separator.
func subjectFor(channel string) string {
	return strings.Replace(channel, ":", ".", 1)
}

// channelFor reverses subjectFor.
func channelFor(subject string) string {
	return strings.Replace(subject, ".", ":", 1)
}

func subjectPattern(pattern string) string {
	subject := subjectFor(pattern)
	if strings.HasSuffix(subject, ".*") {
		subject = strings.TrimSuffix(subject, "*") + ">"
	}
	return subject
}

type natsSubscription struct {
	inner  *nats.Subscription
	out    chan Message
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// deliver runs on the nats.go dispatcher goroutine; calls for one subscription are serial.
func (s *natsSubscription) deliver(msg *nats.Msg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.out <- Message{Channel: channelFor(msg.Subject), Payload: msg.Data}:
	case <-s.done:
	}
}

func (s *natsSubscription) Messages() <-chan Message {
	return s.out
}

func (s *natsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.inner != nil {
			err = s.inner.Unsubscribe()
		}
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
	return err
}
