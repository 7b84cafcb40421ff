package relay

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/shipyard/internal/ws"
)

// Drop reasons recorded on the dropped counter.
const (
	dropNoMembers    = "no_members"
	dropSlowConsumer = "slow_consumer"
	dropBadChannel   = "bad_channel"
)

type metrics struct {
	forwarded prometheus.Counter
	dropped   *prometheus.CounterVec
	joins     prometheus.Counter
	rooms     prometheus.Gauge
	clients   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "relay",
			Name:      "messages_forwarded_total",
			Help:      "Log payloads queued for a room member",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Log payloads not queued, by reason",
		}, []string{"reason"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "relay",
			Name:      "joins_total",
			Help:      "Room join requests",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shipyard",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shipyard",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Clients joined to at least one room",
		}),
	}
	if reg == nil {
		return m
	}
	m.forwarded = register(reg, m.forwarded)
	m.dropped = register(reg, m.dropped)
	m.joins = register(reg, m.joins)
	m.rooms = register(reg, m.rooms)
	m.clients = register(reg, m.clients)
	return m
}

// register returns the already registered collector when an identical one exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(stats ws.Stats) {
	m.rooms.Set(float64(stats.Rooms))
	m.clients.Set(float64(stats.Clients))
}
