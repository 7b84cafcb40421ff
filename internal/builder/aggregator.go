package builder

import (
	"fmt"
	"sync"
	"time"
)

const (
	repeatFlushInterval = 5 * time.Second
	logBufferSize       = 100
)

// logAggregator collapses runs of identical lines into one "(repeated N more times)"
// line and keeps the most recent lines for failure reports. Safe for concurrent use.
type logAggregator struct {
	mu       sync.Mutex
	emit     func(string)
	last     string
	repeats  int
	lastEmit time.Time
	maxDelay time.Duration
	buffer   []string
	bufSize  int
	now      func() time.Time
}

func newLogAggregator(emit func(string)) *logAggregator {
	return &logAggregator{
		emit:     emit,
		maxDelay: repeatFlushInterval,
		bufSize:  logBufferSize,
		now:      time.Now,
	}
}

// Add records one line.
func (a *logAggregator) Add(line string) {
	if line == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if a.last == "" {
		a.last = line
		a.repeats = 0
		a.emitLine(line, now)
		return
	}
	if line == a.last {
		a.repeats++
		if a.maxDelay > 0 && now.Sub(a.lastEmit) >= a.maxDelay {
			a.flushRepeatsAt(now)
		}
		return
	}
	a.flushRepeatsAt(now)
	a.last = line
	a.repeats = 0
	a.emitLine(line, now)
}

// Flush emits any pending repeat count.
func (a *logAggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushRepeatsAt(a.now())
}

// Snapshot returns up to limit of the most recent emitted lines.
func (a *logAggregator) Snapshot(limit int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffer) == 0 {
		return nil
	}
	if limit <= 0 || limit >= len(a.buffer) {
		return append([]string(nil), a.buffer...)
	}
	return append([]string(nil), a.buffer[len(a.buffer)-limit:]...)
}

func (a *logAggregator) flushRepeatsAt(now time.Time) {
	if a.repeats == 0 || a.last == "" {
		return
	}
	msg := fmt.Sprintf("%s (repeated %d more times)", a.last, a.repeats)
	a.repeats = 0
	a.emitLine(msg, now)
}

func (a *logAggregator) emitLine(line string, now time.Time) {
	if a.emit != nil {
		a.emit(line)
	}
	a.lastEmit = now
	if a.bufSize <= 0 {
		return
	}
	if len(a.buffer) < a.bufSize {
		a.buffer = append(a.buffer, line)
		return
	}
	a.buffer = append(a.buffer[1:], line)
}
