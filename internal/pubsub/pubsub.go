// Package pubsub abstracts the fire-and-forget publish/subscribe transport that carries build
// log lines from build containers to the relay.
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned when operating on a closed transport.
var ErrClosed = errors.New("pubsub: closed")

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription delivers messages for a pattern subscription. Messages is closed after Close.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Subscriber creates pattern subscriptions.
type Subscriber interface {
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
}

// Publisher sends a payload to a channel. Delivery is at-most-once.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Transport is a full pub/sub connection.
type Transport interface {
	Subscriber
	Publisher
	Ping(ctx context.Context) error
	Close() error
}
