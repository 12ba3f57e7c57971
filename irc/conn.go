package irc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/onnwee/chatbot/telemetry"
)

// ErrNotConnected is returned by SendLine and ReadBatch when the connection
// is not in an open state.
var ErrNotConnected = errors.New("irc: connection not open")

// ConnError wraps transient transport failures (dial errors, handshake
// failures, mid-session disconnects). The orchestrator responds to it by
// reconnecting; it never crosses the process boundary.
type ConnError struct {
	URL string
	Err error
}

func (e *ConnError) Error() string { return fmt.Sprintf("irc: gateway %s: %v", e.URL, e.Err) }
func (e *ConnError) Unwrap() error { return e.Err }

// Conn owns the single websocket connection to the chat gateway. Writes are
// serialized through a mutex so concurrent senders (the inbound path, command
// handlers, timers) cannot interleave protocol lines. Reads are expected from
// a single goroutine.
type Conn struct {
	url string

	wmu sync.Mutex // serializes writes and guards ws replacement
	ws  *websocket.Conn

	mu   sync.Mutex
	open bool
}

// NewConn returns an unconnected Conn for the given gateway URL
// (e.g. ws://irc-ws.chat.twitch.tv:80).
func NewConn(gatewayURL string) *Conn {
	return &Conn{url: gatewayURL}
}

// Connect dials the gateway once. Failure is reported as a *ConnError.
func (c *Conn) Connect(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return &ConnError{URL: c.url, Err: err}
	}
	ws.SetReadLimit(1 << 20)
	c.wmu.Lock()
	c.ws = ws
	c.wmu.Unlock()
	c.setOpen(true)
	return nil
}

// ConnectWithBackoff dials the gateway until it succeeds, using capped
// exponential backoff with unlimited retries. It returns early only when the
// context is canceled.
func (c *Conn) ConnectWithBackoff(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.Reset()
	for attempt := 1; ; attempt++ {
		err := c.Connect(ctx)
		if err == nil {
			if attempt > 1 {
				telemetry.Reconnects.Inc()
			}
			return nil
		}
		wait := bo.NextBackOff()
		slog.Warn("gateway dial failed; retrying",
			slog.String("url", c.url),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("err", err))
		select {
		case <-ctx.Done():
			return &ConnError{URL: c.url, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
}

// Connected reports whether the connection is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Conn) setOpen(v bool) {
	c.mu.Lock()
	c.open = v
	c.mu.Unlock()
}

// SendLine writes one protocol line as a single text frame. It fails with
// ErrNotConnected when the connection is not open; a write error closes the
// connection state and surfaces as a *ConnError.
func (c *Conn) SendLine(ctx context.Context, line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.ws == nil || !c.Connected() {
		telemetry.SendFailures.Inc()
		return ErrNotConnected
	}
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
		c.setOpen(false)
		telemetry.SendFailures.Inc()
		return &ConnError{URL: c.url, Err: err}
	}
	return nil
}

// ReadBatch blocks for the next websocket frame and returns the protocol
// lines it contains (the gateway batches multiple CR-LF separated lines per
// frame). A read error marks the connection closed and terminates the
// sequence with a *ConnError.
func (c *Conn) ReadBatch(ctx context.Context) ([]string, error) {
	c.wmu.Lock()
	ws := c.ws
	c.wmu.Unlock()
	if ws == nil || !c.Connected() {
		return nil, ErrNotConnected
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		c.setOpen(false)
		return nil, &ConnError{URL: c.url, Err: err}
	}
	raw := strings.Split(strings.TrimRight(string(data), "\r\n"), "\r\n")
	lines := raw[:0]
	for _, ln := range raw {
		if ln != "" {
			lines = append(lines, ln)
			telemetry.LinesRead.Inc()
		}
	}
	return lines, nil
}

// Close tears the connection down. Safe to call multiple times and from any
// goroutine; a blocked ReadBatch unblocks with an error.
func (c *Conn) Close() error {
	c.setOpen(false)
	c.wmu.Lock()
	ws := c.ws
	c.ws = nil
	c.wmu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "closing")
}
