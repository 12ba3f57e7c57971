package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatbot/irc"
)

const (
	rateWindow = 30 * time.Second
	rateLimit  = 20  // messages per window as a regular user
	modLimit   = 100 // messages per window with moderator status

	// dupSuffix is an invisible tag character appended when a message would
	// repeat the previous one verbatim, defeating the gateway's
	// duplicate-message rejection.
	dupSuffix = "\U000E0000"
)

// messenger is the per-channel outbound queue. All chat sent to a channel
// funnels through its messenger, which paces sends to stay inside the
// gateway's rate window and suppresses duplicate rejection.
type messenger struct {
	bot     *Bot
	channel string
	queue   chan string
	stop    chan struct{}

	mu       sync.Mutex
	closed   bool      // set by stopMessenger; the queue itself stays open
	sent     int       // messages sent in the current rate window
	last     string    // previous text sent, for duplicate suppression
	mutedTil time.Time // set when the bot itself is timed out here
	banned   bool
}

// Say queues text for the channel. It returns an error when the messenger was
// stopped or its queue is full; delivery itself is asynchronous and
// best-effort.
func (b *Bot) Say(ctx context.Context, channel, text string) error {
	if text == "" {
		return nil
	}
	m := b.messenger(channel)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("bot: messenger for %s is stopped", channel)
	}
	m.mu.Unlock()
	select {
	case m.queue <- text:
		return nil
	default:
		return fmt.Errorf("bot: send queue full for %s", channel)
	}
}

// messenger returns the channel's queue, creating and starting it on first
// use. The worker lives for the rest of the run unless the channel is parted.
func (b *Bot) messenger(channel string) *messenger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.messengers[channel]; ok {
		return m
	}
	m := &messenger{
		bot:     b,
		channel: channel,
		queue:   make(chan string, rateLimit),
		stop:    make(chan struct{}),
	}
	b.messengers[channel] = m
	ctx := b.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go m.run(ctx)
	return m
}

// stopMessenger retires the channel's worker. The queue itself is left open
// so a Say racing the stop lands in the abandoned buffer instead of panicking
// on a closed channel; anything still queued is dropped with the worker.
func (b *Bot) stopMessenger(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.messengers[channel]; ok {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stop)
		delete(b.messengers, channel)
	}
}

// silenceChannel mutes the channel's messenger for d, or indefinitely when d
// is negative (the bot was banned there).
func (b *Bot) silenceChannel(channel string, d time.Duration) {
	m := b.messenger(channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		m.banned = true
		slog.Warn("bot banned; messenger muted", slog.String("channel", channel))
		return
	}
	m.mutedTil = time.Now().Add(d)
	slog.Warn("bot timed out; messenger muted",
		slog.String("channel", channel),
		slog.Duration("for", d))
}

// ResetRateWindows opens a fresh rate window on every messenger. Driven by
// the rate-window timer.
func (b *Bot) ResetRateWindows() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.messengers {
		m.mu.Lock()
		m.sent = 0
		m.mu.Unlock()
	}
}

func (m *messenger) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case text := <-m.queue:
			if m.deliver(ctx, text) {
				// Pace sends so a full window's worth of queued messages
				// spreads across the whole window.
				select {
				case <-ctx.Done():
					return
				case <-m.stop:
					return
				case <-time.After(rateWindow / rateLimit):
				}
			}
		}
	}
}

// deliver sends one message if the channel will accept it. It reports whether
// a send actually went out, so pacing only applies to real sends.
func (m *messenger) deliver(ctx context.Context, text string) bool {
	view, ok := m.bot.registry.Snapshot(m.channel)
	if !ok {
		return false
	}
	if !m.bot.Active() || !view.Responsive {
		return false
	}

	m.mu.Lock()
	if m.banned {
		m.mu.Unlock()
		return false
	}
	if wait := time.Until(m.mutedTil); wait > 0 {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		m.mu.Lock()
	}
	limit := rateLimit
	if view.Mod {
		limit = modLimit
	}
	if m.sent >= limit {
		m.mu.Unlock()
		slog.Warn("rate limit reached; message dropped",
			slog.String("channel", m.channel),
			slog.Int("limit", limit))
		return false
	}
	if text == m.last {
		text += dupSuffix
	}
	m.mu.Unlock()

	if err := m.bot.transport.SendLine(ctx, irc.PrivmsgLine(m.channel, text)); err != nil {
		slog.Warn("send failed", slog.String("channel", m.channel), slog.Any("err", err))
		return false
	}
	// Only a send that actually went out consumes rate budget or counts as
	// the previous message for duplicate suppression.
	m.mu.Lock()
	m.sent++
	m.last = text
	m.mu.Unlock()
	return true
}
