// Package bot is the orchestrator: it owns the transport session, drives the
// protocol state machine over inbound lines, fans chat messages out to the
// command dispatcher and channel registry, and hosts the per-channel
// rate-limited messengers that all outbound chat flows through.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chatbot/channel"
	"github.com/onnwee/chatbot/command"
	"github.com/onnwee/chatbot/config"
	"github.com/onnwee/chatbot/irc"
	"github.com/onnwee/chatbot/telemetry"
	"github.com/onnwee/chatbot/timer"
)

// ErrAuthFailed is fatal for the current credential: the gateway rejected the
// login and retrying with the same token would only repeat the rejection.
var ErrAuthFailed = errors.New("bot: gateway rejected authentication")

// ErrCapabilityMismatch is fatal: the gateway acknowledged a different
// capability set than requested, so the session cannot behave as configured.
var ErrCapabilityMismatch = errors.New("bot: acknowledged capabilities do not match requested")

// errReconnect asks the outer run loop to cycle the connection. Transient.
var errReconnect = errors.New("bot: gateway requested reconnect")

// Transport is the bot's view of the gateway connection. Implemented by
// *irc.Conn; tests substitute a scripted fake.
type Transport interface {
	Connect(ctx context.Context) error
	ConnectWithBackoff(ctx context.Context) error
	SendLine(ctx context.Context, line string) error
	ReadBatch(ctx context.Context) ([]string, error)
	Connected() bool
	Close() error
}

// Bot wires the engine together. Construct with New, register commands and
// timers, then call Run.
type Bot struct {
	cfg        *config.Settings
	transport  Transport
	registry   *channel.Registry
	dispatcher *command.Dispatcher
	scheduler  *timer.Scheduler

	state    atomic.Int32
	active   atomic.Bool // global response toggle (the "bot off" command)
	restarts atomic.Int64
	started  time.Time

	tokenMu sync.Mutex
	token   string // IRC credential; replaceable by the oauth refresher

	mu           sync.Mutex
	runCtx       context.Context
	pendingJoins []string
	messengers   map[string]*messenger
	lastPong     atomic.Int64 // unix nano of the last PONG seen
}

// New builds a Bot around a transport and registry. The dispatcher is created
// here so the bot can serve as its send capability.
func New(cfg *config.Settings, transport Transport, registry *channel.Registry) *Bot {
	b := &Bot{
		cfg:        cfg,
		transport:  transport,
		registry:   registry,
		messengers: make(map[string]*messenger),
		token:      cfg.OAuthToken,
	}
	b.active.Store(true)
	b.dispatcher = command.NewDispatcher(command.Config{
		Ranks: command.Ranks{
			Owner:     cfg.Owner,
			Admins:    cfg.Admins,
			Blacklist: cfg.Blacklist,
		},
		Sender:        b,
		SurfaceErrors: cfg.ShowErrors,
	})
	b.scheduler = timer.NewScheduler(b.reportTimerFailure)
	return b
}

// Dispatcher returns the command dispatcher for registration and toggling.
func (b *Bot) Dispatcher() *command.Dispatcher { return b.dispatcher }

// Scheduler returns the timer scheduler for registration.
func (b *Bot) Scheduler() *timer.Scheduler { return b.scheduler }

// Channels returns the shared channel registry.
func (b *Bot) Channels() *channel.Registry { return b.registry }

// Config returns the immutable settings the bot was built with.
func (b *Bot) Config() *config.Settings { return b.cfg }

// Active reports the global response toggle.
func (b *Bot) Active() bool { return b.active.Load() }

// SetActive flips the global response toggle.
func (b *Bot) SetActive(v bool) { b.active.Store(v) }

// SetToken replaces the IRC credential used on the next (re)connect. Called
// by the oauth refresher.
func (b *Bot) SetToken(token string) {
	b.tokenMu.Lock()
	b.token = token
	b.tokenMu.Unlock()
}

func (b *Bot) currentToken() string {
	b.tokenMu.Lock()
	defer b.tokenMu.Unlock()
	return b.token
}

// State returns the current protocol session state.
func (b *Bot) State() State { return State(b.state.Load()) }

func (b *Bot) setState(s State) {
	b.state.Store(int32(s))
	telemetry.SetSessionState(int(s))
}

// Status is a point-in-time snapshot served by the HTTP status endpoint.
type Status struct {
	State    string   `json:"state"`
	Channels []string `json:"channels"`
	Restarts int64    `json:"restarts"`
	Uptime   string   `json:"uptime"`
	Active   bool     `json:"active"`
}

// Status snapshots the bot for observability surfaces.
func (b *Bot) Status() Status {
	return Status{
		State:    b.State().String(),
		Channels: b.registry.Names(),
		Restarts: b.restarts.Load(),
		Uptime:   time.Since(b.started).Round(time.Second).String(),
		Active:   b.Active(),
	}
}

// Run connects and drives the session until the context is canceled or a
// fatal error (authentication rejection, capability mismatch) occurs.
// Transient disconnects are retried forever with backoff. The timer scheduler
// is started once and keeps firing across reconnects; its sends fail and are
// reported while the transport is down.
func (b *Bot) Run(ctx context.Context) error {
	b.started = time.Now()
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()
	b.dispatcher.Freeze()
	b.scheduler.Start(ctx)

	for {
		b.setState(StateConnecting)
		if err := b.transport.ConnectWithBackoff(ctx); err != nil {
			b.setState(StateDisconnected)
			return err
		}
		err := b.session(ctx)

		b.setState(StateClosing)
		if cerr := b.transport.Close(); cerr != nil {
			slog.Debug("transport close", slog.Any("err", cerr))
		}
		b.setState(StateDisconnected)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrCapabilityMismatch):
			return err
		}
		n := b.restarts.Add(1)
		slog.Warn("session ended; restarting", slog.Int64("restarts", n), slog.Any("err", err))
	}
}

// session performs capability negotiation and authentication, queues the
// configured channel joins, then runs the inbound read loop and the client
// keepalive until one of them fails.
func (b *Bot) session(ctx context.Context) error {
	b.setState(StateNegotiating)
	if err := b.transport.SendLine(ctx, irc.CapReqLine(b.cfg.Capabilities)); err != nil {
		return err
	}

	b.setState(StateAuthenticating)
	if err := b.transport.SendLine(ctx, irc.PassLine(b.currentToken())); err != nil {
		return err
	}
	if err := b.transport.SendLine(ctx, irc.NickLine(b.cfg.Username)); err != nil {
		return err
	}

	// Joins wait in the queue until the welcome numeric confirms auth.
	// Every channel in the registry must reconfirm with a fresh 366 before
	// this session counts as joined, including channels added at runtime.
	b.mu.Lock()
	b.pendingJoins = b.pendingJoins[:0]
	for _, name := range b.cfg.Channels() {
		b.registry.Join(name, b.cfg.Online(name), b.cfg.Offline(name))
	}
	for _, name := range b.registry.Names() {
		b.registry.Update(name, func(ch *channel.Channel) { ch.Joined = false })
		b.pendingJoins = append(b.pendingJoins, name)
	}
	b.mu.Unlock()

	b.lastPong.Store(time.Now().UnixNano())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.readLoop(gctx) })
	g.Go(func() error { return b.keepalive(gctx) })
	return g.Wait()
}

// readLoop is the single inbound-processing task: it consumes the line
// sequence and drives the state machine and dispatcher. Malformed lines are
// dropped; only connection loss and fatal control lines end the loop.
func (b *Bot) readLoop(ctx context.Context) error {
	for {
		lines, err := b.transport.ReadBatch(ctx)
		if err != nil {
			return err
		}
		for _, raw := range lines {
			msg, err := irc.ParseMessage(raw)
			if err != nil {
				telemetry.ProtocolErrors.Inc()
				slog.Warn("dropping malformed line", slog.String("raw", raw))
				continue
			}
			if b.cfg.VerboseIRC {
				slog.Debug("irc", slog.String("cmd", msg.Command), slog.String("raw", msg.Raw))
			}
			if err := b.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// keepalive sends a client PING every interval and forces a disconnect when
// the answering PONG does not arrive within the timeout.
func (b *Bot) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		sentAt := time.Now()
		if err := b.transport.SendLine(ctx, irc.PingLine("keepalive")); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.PongTimeout):
		}
		if b.lastPong.Load() < sentAt.UnixNano() {
			if err := b.transport.Close(); err != nil {
				slog.Debug("transport close", slog.Any("err", err))
			}
			return fmt.Errorf("bot: keepalive timed out after %s", b.cfg.PongTimeout)
		}
	}
}

// Join adds a channel. The protocol request is sent immediately once the
// session is authenticated, otherwise it queues until the welcome numeric.
func (b *Bot) Join(ctx context.Context, name string, activeOnline, activeOffline bool) error {
	b.registry.Join(name, activeOnline, activeOffline)
	b.mu.Lock()
	authenticated := b.State() >= StateJoining && b.State() <= StateJoined
	if !authenticated {
		b.pendingJoins = append(b.pendingJoins, name)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.transport.SendLine(ctx, irc.JoinLine(name))
}

// Part removes a channel's state and leaves it on the wire.
func (b *Bot) Part(ctx context.Context, name string) error {
	b.stopMessenger(name)
	b.registry.Part(name)
	if !b.transport.Connected() {
		return nil
	}
	return b.transport.SendLine(ctx, irc.PartLine(name))
}

// flushJoins sends every queued join request. Called on the welcome numeric.
func (b *Bot) flushJoins(ctx context.Context) error {
	b.mu.Lock()
	joins := append([]string(nil), b.pendingJoins...)
	b.pendingJoins = b.pendingJoins[:0]
	b.mu.Unlock()
	for _, name := range joins {
		if err := b.transport.SendLine(ctx, irc.JoinLine(name)); err != nil {
			return err
		}
	}
	return nil
}

// reportTimerFailure surfaces timer handler failures the same way command
// failures are surfaced: logged always, reported to chat when enabled and a
// sensible origin channel exists (timers have none, so chat is skipped).
func (b *Bot) reportTimerFailure(ctx context.Context, name string, err error) {
	slog.Error("timer failed", slog.String("timer", name), slog.Any("err", err))
}
