package command

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Handler is the pluggable business logic of a command. It runs synchronously
// to completion; a returned error (or panic) is caught at the dispatcher
// boundary and never crashes the session.
type Handler func(ctx context.Context, inv *Invocation) error

// Command describes one chat command. Descriptors are registered once at
// startup and are immutable afterwards, except the enabled/visibility state
// which privileged commands may toggle through the dispatcher.
type Command struct {
	Name    string   // canonical name, case-insensitive unique
	Aliases []string // alternate names, share the uniqueness domain
	Syntax  string   // parameter schema, see ParseSchema
	Desc    string
	Perm    Perm
	Prefix  *string // accepted prefix; nil means the dispatcher default

	// GlobalCooldown throttles the command per channel; UserCooldown
	// throttles it per user on top of that. A user cooldown at or below
	// the global one is redundant and ignored.
	GlobalCooldown time.Duration
	UserCooldown   time.Duration

	Hidden   bool // executes normally but excluded from command listings
	Disabled bool // start disabled; behaves as unknown until toggled on

	Handler Handler

	schema     *Schema
	enabled    bool
	disabledIn map[string]bool // channels where the command is toggled off
}

// compile validates the descriptor at registration time.
func (c *Command) compile() error {
	if c.Name == "" {
		return fmt.Errorf("command has no name")
	}
	if c.Handler == nil {
		return fmt.Errorf("command %q has no handler", c.Name)
	}
	schema, err := ParseSchema(c.Syntax)
	if err != nil {
		return fmt.Errorf("command %q: %w", c.Name, err)
	}
	c.schema = schema
	c.enabled = !c.Disabled
	c.disabledIn = make(map[string]bool)
	if c.UserCooldown <= c.GlobalCooldown {
		c.UserCooldown = 0
	}
	return nil
}

// trigger returns the chat token that invokes the command under the given
// default prefix.
func (c *Command) trigger(defaultPrefix string) string {
	prefix := defaultPrefix
	if c.Prefix != nil {
		prefix = *c.Prefix
	}
	return prefix + strings.ToLower(c.Name)
}

// Info is a read-only snapshot of a command used by listing features.
type Info struct {
	Name    string
	Trigger string
	Syntax  string
	Desc    string
	Perm    Perm
	Aliases []string
	Hidden  bool
	Enabled bool
}

func (i Info) String() string {
	out := i.Trigger
	if i.Syntax != "" {
		out += " " + i.Syntax
	}
	if i.Perm != PermEveryone {
		out += fmt.Sprintf(" (%s)", i.Perm)
	}
	out += " - " + i.Desc
	if len(i.Aliases) > 0 {
		out += fmt.Sprintf(" (aliases: %s)", strings.Join(i.Aliases, ", "))
	}
	return out
}

// Invocation carries the runtime context handed to a handler: where the
// command came from, who sent it, the parsed arguments, and the send
// capability. The display name is the one the message was authored with,
// even when the same line triggered rename recognition.
type Invocation struct {
	Channel string
	UserID  string
	Login   string
	Display string
	Role    Role
	Args    map[string]string
	Event   ChatEvent

	d *Dispatcher
}

// Reply sends text to the channel the command was invoked in.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	return inv.d.sender.Say(ctx, inv.Channel, text)
}

// Say sends text to an arbitrary channel; cross-channel relays use this.
func (inv *Invocation) Say(ctx context.Context, channel, text string) error {
	return inv.d.sender.Say(ctx, channel, text)
}

// Dispatcher exposes registry operations to privileged handlers.
func (inv *Invocation) Dispatcher() *Dispatcher { return inv.d }
