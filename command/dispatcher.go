package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatbot/telemetry"
)

// Outcome classifies the result of one dispatch attempt.
type Outcome int

const (
	// OutcomeUnknown: not a command, or a disabled command. Silent; chat
	// channels carry plenty of non-command traffic.
	OutcomeUnknown Outcome = iota
	OutcomeOK
	OutcomeDenied
	OutcomeCooldown
	OutcomeUsageError
	OutcomeHandlerError
)

var outcomeNames = map[Outcome]string{
	OutcomeUnknown:      "unknown",
	OutcomeOK:           "ok",
	OutcomeDenied:       "denied",
	OutcomeCooldown:     "cooldown",
	OutcomeUsageError:   "usage_error",
	OutcomeHandlerError: "handler_error",
}

func (o Outcome) String() string { return outcomeNames[o] }

// Sender is the dispatcher's send capability back into the session.
type Sender interface {
	Say(ctx context.Context, channel, text string) error
}

// ChatEvent is a chat message as seen by the dispatcher.
type ChatEvent struct {
	Channel string
	UserID  string
	Login   string
	Display string
	Text    string
	Tags    map[string]string
}

// Config configures a Dispatcher.
type Config struct {
	DefaultPrefix string // falls back to "!"
	Ranks         Ranks
	Sender        Sender
	SurfaceErrors bool             // report denials/failures to the originating channel
	Now           func() time.Time // test hook; defaults to time.Now
}

// Dispatcher parses chat messages into command invocations and enforces
// role, cooldown, and visibility policy before running handlers. Cooldown
// and registry state are shared between the inbound path and timer handlers;
// one mutex serializes all of it.
type Dispatcher struct {
	mu            sync.Mutex
	defaultPrefix string
	commands      map[string]*Command // canonical lowercased name -> command
	triggers      map[string]*Command // lowercased trigger (prefix+name/alias) -> command
	cooldowns     map[string]time.Time
	ranks         Ranks
	sender        Sender
	surfaceErrors bool
	now           func() time.Time
	frozen        bool
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = "!"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		defaultPrefix: cfg.DefaultPrefix,
		commands:      make(map[string]*Command),
		triggers:      make(map[string]*Command),
		cooldowns:     make(map[string]time.Time),
		ranks:         cfg.Ranks,
		sender:        cfg.Sender,
		surfaceErrors: cfg.SurfaceErrors,
		now:           cfg.Now,
	}
}

// Register adds a command descriptor. Names and aliases are case-insensitive
// and globally unique; a collision is a startup configuration error. No
// registration is accepted once Freeze has been called.
func (d *Dispatcher) Register(cmd *Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return fmt.Errorf("register %q: dispatcher already started", cmd.Name)
	}
	if err := cmd.compile(); err != nil {
		return err
	}
	for _, name := range append([]string{cmd.Name}, cmd.Aliases...) {
		if _, exists := d.commands[strings.ToLower(name)]; exists {
			return fmt.Errorf("command name %q already registered", name)
		}
	}
	d.commands[strings.ToLower(cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		d.commands[strings.ToLower(alias)] = cmd
	}
	d.indexLocked(cmd)
	return nil
}

// Freeze ends the registration window. Called by the orchestrator on start.
func (d *Dispatcher) Freeze() {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
}

func (d *Dispatcher) indexLocked(cmd *Command) {
	prefix := d.defaultPrefix
	if cmd.Prefix != nil {
		prefix = *cmd.Prefix
	}
	d.triggers[strings.ToLower(prefix+cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		d.triggers[strings.ToLower(prefix+alias)] = cmd
	}
}

// SetDefaultPrefix changes the prefix for all commands without a custom one
// and reindexes the trigger table.
func (d *Dispatcher) SetDefaultPrefix(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultPrefix = prefix
	d.triggers = make(map[string]*Command)
	seen := make(map[*Command]bool)
	for _, cmd := range d.commands {
		if !seen[cmd] {
			seen[cmd] = true
			d.indexLocked(cmd)
		}
	}
}

// DefaultPrefix returns the current default prefix.
func (d *Dispatcher) DefaultPrefix() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaultPrefix
}

// Toggle enables or disables a command, globally when channel is empty or in
// one channel otherwise.
func (d *Dispatcher) Toggle(name string, enabled bool, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmd, ok := d.commands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("command %q not found", name)
	}
	switch {
	case channel == "":
		cmd.enabled = enabled
	case enabled:
		delete(cmd.disabledIn, channel)
	default:
		cmd.disabledIn[channel] = true
	}
	return nil
}

// Find returns a snapshot of the named command, resolving aliases.
func (d *Dispatcher) Find(name string) (Info, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmd, ok := d.commands[strings.ToLower(name)]
	if !ok {
		return Info{}, false
	}
	return d.infoLocked(cmd), true
}

// Commands returns snapshots of all registered commands, including hidden
// ones; listing features filter on Hidden themselves.
func (d *Dispatcher) Commands() []Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[*Command]bool)
	var out []Info
	for _, name := range sortedKeys(d.commands) {
		cmd := d.commands[name]
		if seen[cmd] {
			continue
		}
		seen[cmd] = true
		out = append(out, d.infoLocked(cmd))
	}
	return out
}

func (d *Dispatcher) infoLocked(cmd *Command) Info {
	return Info{
		Name:    cmd.Name,
		Trigger: cmd.trigger(d.defaultPrefix),
		Syntax:  cmd.Syntax,
		Desc:    cmd.Desc,
		Perm:    cmd.Perm,
		Aliases: append([]string(nil), cmd.Aliases...),
		Hidden:  cmd.Hidden,
		Enabled: cmd.enabled,
	}
}

// Dispatch examines a chat message and, when it names an invocable command,
// enforces policy and runs the handler. It never returns an error that should
// crash the caller; the error is the handler's failure, already isolated and
// reported, returned for observability only.
func (d *Dispatcher) Dispatch(ctx context.Context, ev ChatEvent) (Outcome, error) {
	token, argstr, _ := strings.Cut(ev.Text, " ")
	d.mu.Lock()
	cmd, ok := d.triggers[strings.ToLower(token)]
	if !ok || !cmd.enabled || cmd.disabledIn[ev.Channel] {
		d.mu.Unlock()
		return OutcomeUnknown, nil
	}
	surface := d.surfaceErrors
	d.mu.Unlock()

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "chatbot/command", "command.dispatch",
		attribute.String("command", cmd.Name),
		attribute.String("channel", ev.Channel),
		attribute.String("user", ev.Login),
	)
	outcome, err := d.dispatch(ctx, cmd, ev, argstr, surface)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	telemetry.RecordError(span, err)
	span.End()
	telemetry.CountDispatch(outcome.String())
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd *Command, ev ChatEvent, argstr string, surface bool) (Outcome, error) {
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("command", cmd.Name),
		slog.String("channel", ev.Channel),
		slog.String("user", ev.Login))

	if d.ranks.Blacklisted(ev.Login) {
		// Blacklisted users are always denied silently.
		log.Debug("dispatch denied: blacklisted")
		return OutcomeDenied, nil
	}

	role := RoleFor(d.ranks, ev.Login, ev.Tags)
	if !cmd.Perm.Allows(role) {
		log.Info("dispatch denied: insufficient role", slog.String("role", role.String()), slog.String("required", cmd.Perm.String()))
		if surface && !cmd.Hidden {
			d.say(ctx, ev.Channel, fmt.Sprintf("@%s Insufficient permissions (%s)", ev.Login, cmd.Perm))
		}
		return OutcomeDenied, nil
	}

	now := d.now()
	globalKey := cooldownKey(ev.Channel, cmd.Name, "")
	userKey := cooldownKey(ev.Channel, cmd.Name, ev.Login)
	d.mu.Lock()
	if remaining := cooldownLeft(d.cooldowns, globalKey, cmd.GlobalCooldown, now); remaining > 0 {
		d.mu.Unlock()
		log.Info("dispatch rejected: cooldown active", slog.Duration("remaining", remaining))
		return OutcomeCooldown, nil
	}
	if remaining := cooldownLeft(d.cooldowns, userKey, cmd.UserCooldown, now); remaining > 0 {
		d.mu.Unlock()
		log.Info("dispatch rejected: user cooldown active", slog.Duration("remaining", remaining))
		return OutcomeCooldown, nil
	}
	d.mu.Unlock()

	args, err := cmd.schema.ParseArgs(argstr, role)
	if err != nil {
		log.Info("dispatch rejected: bad arguments", slog.Any("err", err))
		if surface {
			d.say(ctx, ev.Channel, fmt.Sprintf("@%s %v", ev.Login, err))
		}
		return OutcomeUsageError, nil
	}

	// Record the cooldown before the handler runs so a slow handler cannot
	// be double-fired. Moderators and above are exempt from throttling.
	if role.Level() < PermMod {
		d.mu.Lock()
		touchCooldown(d.cooldowns, globalKey, now)
		if cmd.UserCooldown > 0 {
			touchCooldown(d.cooldowns, userKey, now)
		}
		d.mu.Unlock()
	}

	inv := &Invocation{
		Channel: ev.Channel,
		UserID:  ev.UserID,
		Login:   ev.Login,
		Display: ev.Display,
		Role:    role,
		Args:    args,
		Event:   ev,
		d:       d,
	}
	if err := d.run(ctx, cmd, inv); err != nil {
		log.Error("command handler failed", slog.Any("err", err))
		if surface {
			d.say(ctx, ev.Channel, fmt.Sprintf("Error: %v", err))
		}
		return OutcomeHandlerError, err
	}
	return OutcomeOK, nil
}

// run executes the handler, converting panics into handler errors so a
// misbehaving command cannot take the session down.
func (d *Dispatcher) run(ctx context.Context, cmd *Command, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %q panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Handler(ctx, inv)
}

func (d *Dispatcher) say(ctx context.Context, channel, text string) {
	if d.sender == nil {
		return
	}
	if err := d.sender.Say(ctx, channel, text); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to surface dispatch outcome", slog.String("channel", channel), slog.Any("err", err))
	}
}

func cooldownKey(channel, command, user string) string {
	return channel + "\x00" + strings.ToLower(command) + "\x00" + user
}

// cooldownLeft returns how much of the cooldown window remains. Invoking
// exactly at the boundary succeeds.
func cooldownLeft(cds map[string]time.Time, key string, cd time.Duration, now time.Time) time.Duration {
	if cd <= 0 {
		return 0
	}
	last, ok := cds[key]
	if !ok {
		return 0
	}
	if left := cd - now.Sub(last); left > 0 {
		return left
	}
	return 0
}

// touchCooldown advances the last-invocation timestamp. Timestamps are
// monotonic: they never move backwards.
func touchCooldown(cds map[string]time.Time, key string, now time.Time) {
	if prev, ok := cds[key]; !ok || now.After(prev) {
		cds[key] = now
	}
}

func sortedKeys(m map[string]*Command) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
