package dispatch

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeQueued  = "queued"
	outcomeFailed  = "submit_failed"
	outcomeInvalid = "invalid"
)

var (
	outcomesOnce sync.Once
	outcomesVec  *prometheus.CounterVec
)

type outcomeRecorder struct {
	vec *prometheus.CounterVec
}

func defaultOutcomes() outcomeRecorder {
	outcomesOnce.Do(func() {
		outcomesVec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Build dispatch attempts by outcome",
		}, []string{"outcome"})
		if err := prometheus.Register(outcomesVec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					outcomesVec = existing
				}
			}
		}
	})
	return outcomeRecorder{vec: outcomesVec}
}

func (o outcomeRecorder) record(outcome string) {
	if o.vec == nil {
		return
	}
	o.vec.WithLabelValues(outcome).Inc()
}
