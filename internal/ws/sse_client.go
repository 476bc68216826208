package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// sseRetryHint tells browsers how long to wait before reconnecting to the
// project stream.
const sseRetryHint = 5 * time.Second

// SSEClient streams project events as Server-Sent Events. Each frame carries
// the envelope type as the SSE event name and a monotonically increasing id
// so clients can resume with Last-Event-ID semantics on their side.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	nextID  uint64
	last    time.Time
}

// NewSSEClient builds an SSE client and emits the reconnect hint preamble.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	c := &SSEClient{writer: writer, flusher: flusher, log: logger, last: time.Now().UTC()}
	if _, err := fmt.Fprintf(writer, "retry: %d\n\n", sseRetryHint.Milliseconds()); err == nil {
		flusher.Flush()
	}
	return c
}

// Send emits one event frame. The payload is expected to be an event
// envelope; when its type can be read it becomes the SSE event name,
// otherwise the frame goes out as a plain data event.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.nextID++
	frame := fmt.Sprintf("id: %d\n", c.nextID)
	if name := eventName(payload); name != "" {
		frame += fmt.Sprintf("event: %s\n", name)
	}
	frame += fmt.Sprintf("data: %s\n\n", payload)
	if _, err := io.WriteString(c.writer, frame); err != nil {
		c.closed = true
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
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closed = true
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func eventName(payload []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.Type
}
