// Package builtin registers the stock commands and timers every deployment
// gets: discovery commands (cmds, help), channel introspection (status, live,
// users, mods), moderation controls (say, toggle, prefix, bot), and the
// cross-channel relay.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/chatbot/bot"
	"github.com/onnwee/chatbot/channel"
	"github.com/onnwee/chatbot/command"
)

// Register installs all default commands on the bot's dispatcher and all
// default timers on its scheduler. helix may be nil, which skips the
// live-status poll and leaves every channel treated as live.
func Register(b *bot.Bot, helix LiveChecker) error {
	empty := ""
	cmds := []*command.Command{
		{
			Name: "bot",
			Desc: "bot info, or turn responses on/off",
			// The state parameter is mod-gated: anyone can ask for info,
			// only mods and above can flip the switch.
			Syntax:  "[mod:state=on|off]",
			Handler: botCmd(b),
		},
		{
			Name:           "cmds",
			Aliases:        []string{"commands"},
			Desc:           "list available commands",
			GlobalCooldown: 10 * time.Second,
			Handler:        cmdsCmd(b),
		},
		{
			Name:           "help",
			Syntax:         "<command>",
			Desc:           "describe a command",
			GlobalCooldown: 5 * time.Second,
			Handler:        helpCmd(b),
		},
		{
			Name:    "status",
			Desc:    "session state, channels, uptime",
			Perm:    command.PermMod,
			Handler: statusCmd(b),
		},
		{
			Name:           "live",
			Desc:           "is this channel live",
			GlobalCooldown: 10 * time.Second,
			Handler:        liveCmd(b),
		},
		{
			Name:           "users",
			Desc:           "how many users are here",
			GlobalCooldown: 10 * time.Second,
			Handler:        usersCmd(b),
		},
		{
			Name:           "mods",
			Desc:           "list recognized moderators",
			GlobalCooldown: 10 * time.Second,
			Handler:        modsCmd(b),
		},
		{
			Name:    "say",
			Syntax:  "<text+>",
			Desc:    "repeat text in this channel",
			Perm:    command.PermMod,
			Handler: sayCmd,
		},
		{
			Name:    "toggle",
			Syntax:  "<command> <state=on|off> [scope=here|all]",
			Desc:    "enable or disable a command",
			Perm:    command.PermAdmin,
			Handler: toggleCmd(b),
		},
		{
			Name:    "prefix",
			Syntax:  "<prefix>",
			Desc:    "change the command prefix",
			Perm:    command.PermOwner,
			Handler: prefixCmd(b),
		},
		{
			Name:    "@",
			Prefix:  &empty,
			Syntax:  "<channel> <text+>",
			Desc:    "relay text to another joined channel",
			Perm:    command.PermAdmin,
			Hidden:  true,
			Handler: relayCmd(b),
		},
	}
	for _, c := range cmds {
		if err := b.Dispatcher().Register(c); err != nil {
			return err
		}
	}
	return registerTimers(b, helix)
}

func botCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		switch inv.Args["state"] {
		case "on":
			b.Channels().Update(inv.Channel, func(ch *channel.Channel) { ch.Active = true })
			return inv.Reply(ctx, "I'm back.")
		case "off":
			// The confirmation goes out before responses stop.
			err := inv.Reply(ctx, "Going quiet.")
			b.Channels().Update(inv.Channel, func(ch *channel.Channel) { ch.Active = false })
			return err
		}
		st := b.Status()
		return inv.Reply(ctx, fmt.Sprintf("%s here. Up %s across %d channel(s). Try %scmds.",
			b.Config().Username, st.Uptime, len(st.Channels), b.Dispatcher().DefaultPrefix()))
	}
}

func cmdsCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		var triggers []string
		for _, info := range b.Dispatcher().Commands() {
			if info.Hidden || !info.Enabled {
				continue
			}
			if !info.Perm.Allows(inv.Role) {
				continue
			}
			triggers = append(triggers, info.Trigger)
		}
		return inv.Reply(ctx, "Commands: "+strings.Join(triggers, ", "))
	}
}

func helpCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		name := strings.TrimPrefix(inv.Args["command"], b.Dispatcher().DefaultPrefix())
		info, ok := b.Dispatcher().Find(name)
		if !ok || info.Hidden {
			return inv.Reply(ctx, fmt.Sprintf("@%s no such command %q", inv.Display, name))
		}
		return inv.Reply(ctx, info.String())
	}
}

func statusCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		st := b.Status()
		return inv.Reply(ctx, fmt.Sprintf("state=%s channels=%s restarts=%d uptime=%s active=%t",
			st.State, strings.Join(st.Channels, ","), st.Restarts, st.Uptime, st.Active))
	}
}

func liveCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		view, ok := b.Channels().Snapshot(inv.Channel)
		if !ok {
			return nil
		}
		if view.Live {
			return inv.Reply(ctx, fmt.Sprintf("%s is live.", strings.TrimPrefix(inv.Channel, "#")))
		}
		return inv.Reply(ctx, fmt.Sprintf("%s is offline.", strings.TrimPrefix(inv.Channel, "#")))
	}
}

func usersCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		n := len(b.Channels().Users(inv.Channel))
		return inv.Reply(ctx, fmt.Sprintf("%d user(s) in chat.", n))
	}
}

func modsCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		mods := b.Channels().Mods(inv.Channel)
		if len(mods) == 0 {
			return inv.Reply(ctx, "No moderators seen yet.")
		}
		return inv.Reply(ctx, "Moderators: "+strings.Join(mods, ", "))
	}
}

func sayCmd(ctx context.Context, inv *command.Invocation) error {
	return inv.Reply(ctx, inv.Args["text"])
}

func toggleCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		name := inv.Args["command"]
		enabled := inv.Args["state"] == "on"
		scope := ""
		if inv.Args["scope"] == "here" {
			scope = inv.Channel
		}
		if err := b.Dispatcher().Toggle(name, enabled, scope); err != nil {
			return inv.Reply(ctx, fmt.Sprintf("@%s %v", inv.Display, err))
		}
		return inv.Reply(ctx, fmt.Sprintf("%q is now %s.", name, inv.Args["state"]))
	}
}

func prefixCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		prefix := inv.Args["prefix"]
		b.Dispatcher().SetDefaultPrefix(prefix)
		return inv.Reply(ctx, fmt.Sprintf("Prefix is now %q.", prefix))
	}
}

func relayCmd(b *bot.Bot) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) error {
		target := strings.ToLower(strings.TrimPrefix(inv.Args["channel"], "#"))
		if b.Channels().Get(target) == nil {
			return inv.Reply(ctx, fmt.Sprintf("@%s not in %s", inv.Display, target))
		}
		return inv.Say(ctx, target, fmt.Sprintf("[%s] %s", inv.Display, inv.Args["text"]))
	}
}
