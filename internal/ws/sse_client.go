package ws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer. Send queues; Run
// performs the writes on the handler goroutine.
type SSEClient struct {
	membership

	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	queue   chan outbound
	done    chan struct{}
	once    sync.Once
	last    time.Time
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger, queueSize int) *SSEClient {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		queue:   make(chan outbound, queueSize),
		done:    make(chan struct{}),
		last:    time.Now().UTC(),
	}
}

// Send queues a data event without blocking.
func (c *SSEClient) Send(room string, payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.queue <- outbound{room: room, payload: payload}:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Run writes queued events and heartbeat comments until ctx ends, the client is closed or
// a write fails.
func (c *SSEClient) Run(ctx context.Context, heartbeat time.Duration) error {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case msg := <-c.queue:
			if !c.member(msg.room) {
				continue
			}
			if err := c.write(msg.payload); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				return err
			}
		}
	}
}

func (c *SSEClient) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf bytes.Buffer
	for _, line := range bytes.Split(payload, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	if _, err := c.writer.Write(buf.Bytes()); err != nil {
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.once.Do(func() { close(c.done) })
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
