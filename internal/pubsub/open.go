package pubsub

import (
	"fmt"
	"strings"
)

// Transport names accepted by Open.
const (
	KindRedis  = "redis"
	KindNATS   = "nats"
	KindMemory = "memory"
)

// OpenConfig selects and addresses a transport.
type OpenConfig struct {
	Kind     string
	RedisURL string
	NATSURL  string
	Name     string
}

// Open connects the transport named by cfg.Kind. An empty kind means redis.
func Open(cfg OpenConfig) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindRedis:
		t, err := NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindNATS:
		t, err := NewNATS(cfg.NATSURL, cfg.Name)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown pubsub transport %q", cfg.Kind)
	}
}
