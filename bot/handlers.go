package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatbot/channel"
	"github.com/onnwee/chatbot/command"
	"github.com/onnwee/chatbot/irc"
)

// ignoredCommands are control lines the bot receives but has no use for:
// server info numerics, MOTD, and legacy host notices.
var ignoredCommands = map[string]bool{
	"002": true, "003": true, "004": true,
	"372": true, "375": true, "376": true,
	"GLOBALUSERSTATE": true,
	"HOSTTARGET":      true,
}

// handle classifies one inbound line and applies it: control lines update the
// session state or the channel registry directly, chat lines are recorded and
// handed to the dispatcher. Only fatal control conditions return an error.
func (b *Bot) handle(ctx context.Context, msg *irc.Message) error {
	switch msg.Command {
	case "PING":
		return b.transport.SendLine(ctx, irc.PongLine())
	case "PONG":
		b.lastPong.Store(time.Now().UnixNano())
		return nil
	case "001":
		slog.Info("login successful", slog.String("username", b.cfg.Username))
		b.setState(StateJoining)
		return b.flushJoins(ctx)
	case "CAP":
		return b.handleCapAck(msg)
	case "RECONNECT":
		// The gateway will drop us shortly; cycle the connection now.
		return errReconnect
	case "NOTICE":
		return b.handleNotice(msg)
	case "JOIN":
		if msg.Nick != "" && msg.Nick != b.cfg.Username {
			b.registry.AddUser(msg.Channel(), msg.Nick)
		}
		return nil
	case "PART":
		if msg.Nick != "" && msg.Nick != b.cfg.Username {
			b.registry.RemoveUser(msg.Channel(), msg.Nick)
		}
		return nil
	case "353":
		for _, login := range strings.Fields(msg.Text) {
			b.registry.AddUser(msg.Channel(), login)
		}
		return nil
	case "366":
		b.handleEndOfNames(msg.Channel())
		return nil
	case "USERSTATE":
		b.registry.Update(msg.Channel(), func(ch *channel.Channel) {
			ch.Mod = msg.Tags.Bool("mod")
		})
		return nil
	case "ROOMSTATE":
		slog.Debug("roomstate", slog.String("channel", msg.Channel()), slog.Any("tags", msg.Tags))
		return nil
	case "CLEARCHAT":
		b.handleClearchat(msg)
		return nil
	case "CLEARMSG":
		slog.Info("message deleted",
			slog.String("channel", msg.Channel()),
			slog.String("user", msg.Tags.Get("login")),
			slog.String("text", msg.Text))
		return nil
	case "USERNOTICE":
		b.handleUsernotice(msg)
		return nil
	case "WHISPER":
		slog.Info("whisper received", slog.String("from", msg.Nick), slog.String("text", msg.Text))
		return nil
	case "PRIVMSG":
		b.handlePrivmsg(ctx, msg)
		return nil
	}
	if !ignoredCommands[msg.Command] && b.cfg.VerboseIRC {
		slog.Debug("unhandled irc command", slog.String("cmd", msg.Command), slog.String("raw", msg.Raw))
	}
	return nil
}

// handleCapAck verifies the acknowledged capability set matches the request.
// A mismatch means the session would run without extensions the rest of the
// engine depends on (tags in particular), which is a configuration error.
func (b *Bot) handleCapAck(msg *irc.Message) error {
	if !msg.IsCapAck() {
		return nil
	}
	acked := msg.Capabilities()
	want := make(map[string]bool, len(b.cfg.Capabilities))
	for _, c := range b.cfg.Capabilities {
		want[c] = true
	}
	got := make(map[string]bool, len(acked))
	for _, c := range acked {
		got[c] = true
	}
	if len(want) != len(got) {
		return fmt.Errorf("%w: requested %v, acknowledged %v", ErrCapabilityMismatch, b.cfg.Capabilities, acked)
	}
	for c := range want {
		if !got[c] {
			return fmt.Errorf("%w: requested %v, acknowledged %v", ErrCapabilityMismatch, b.cfg.Capabilities, acked)
		}
	}
	slog.Info("capabilities acknowledged", slog.Any("caps", acked))
	return nil
}

// handleNotice distinguishes login rejections (fatal for the credential)
// from ordinary channel notices.
func (b *Bot) handleNotice(msg *irc.Message) error {
	text := msg.Text
	if msg.Channel() == "" {
		if strings.Contains(text, "Login authentication failed") ||
			strings.Contains(text, "Improperly formatted auth") ||
			strings.Contains(text, "Login unsuccessful") {
			return fmt.Errorf("%w: %s", ErrAuthFailed, text)
		}
		slog.Info("server notice", slog.String("text", text))
		return nil
	}
	slog.Info("channel notice",
		slog.String("channel", msg.Channel()),
		slog.String("msg_id", msg.Tags.Get("msg-id")),
		slog.String("text", text))
	return nil
}

// handleEndOfNames marks the channel joined; when every configured channel
// has confirmed, the session reaches its steady state.
func (b *Bot) handleEndOfNames(name string) {
	b.registry.Update(name, func(ch *channel.Channel) { ch.Joined = true })
	users := len(b.registry.Users(name))
	slog.Info("channel joined", slog.String("channel", name), slog.Int("users", users))
	for _, n := range b.registry.Names() {
		if v, ok := b.registry.Snapshot(n); !ok || !v.Joined {
			return
		}
	}
	b.setState(StateJoined)
}

// handleClearchat logs bans/timeouts; a timeout aimed at the bot itself
// silences that channel's messenger for the duration.
func (b *Bot) handleClearchat(msg *irc.Message) {
	target := msg.Text
	ch := msg.Channel()
	if target == "" {
		slog.Info("chat cleared by a moderator", slog.String("channel", ch))
		return
	}
	dur := msg.Tags.Get("ban-duration")
	if dur == "" {
		slog.Info("user banned", slog.String("channel", ch), slog.String("user", target))
	} else {
		slog.Info("user timed out", slog.String("channel", ch), slog.String("user", target), slog.String("seconds", dur))
	}
	if target != b.cfg.Username {
		return
	}
	if dur == "" {
		b.silenceChannel(ch, -1)
		return
	}
	if secs, err := strconv.Atoi(dur); err == nil {
		b.silenceChannel(ch, time.Duration(secs+1)*time.Second)
	}
}

func (b *Bot) handleUsernotice(msg *irc.Message) {
	system := strings.ReplaceAll(msg.Tags.Get("system-msg"), `\s`, " ")
	slog.Info("usernotice",
		slog.String("channel", msg.Channel()),
		slog.String("msg_id", msg.Tags.Get("msg-id")),
		slog.String("system", system),
		slog.String("text", msg.Text))
}

// handlePrivmsg is the chat-message path: identity observation, history
// recording, then dispatch. The dispatcher sees the display name the message
// was authored with, even when this very message triggered a rename.
func (b *Bot) handlePrivmsg(ctx context.Context, msg *irc.Message) {
	name := msg.Channel()
	login := msg.Nick
	if name == "" || login == "" || msg.Text == "" {
		return
	}
	display := msg.Tags.Get("display-name")
	if display == "" {
		display = login
	}
	if userID := msg.Tags.Get("user-id"); userID != "" {
		b.registry.Observe(userID, login)
	}
	b.registry.SetUserMod(name, login, msg.Tags.Bool("mod"))

	at := time.Now()
	if ts := msg.Tags.Get("tmi-sent-ts"); ts != "" {
		if millis, err := strconv.ParseInt(ts, 10, 64); err == nil {
			at = time.UnixMilli(millis)
		}
	}
	rec := channel.Message{
		UserID:  msg.Tags.Get("user-id"),
		Login:   login,
		Display: display,
		Text:    msg.Text,
		Tags:    msg.Tags,
		At:      at,
	}
	if _, ok := b.registry.RecordMessage(name, rec); !ok {
		slog.Warn("message for unknown channel dropped", slog.String("channel", name))
		return
	}
	if b.cfg.VerboseIRC {
		slog.Info("chat", slog.String("channel", name), slog.String("user", display), slog.String("text", msg.Text))
	}

	outcome, _ := b.dispatcher.Dispatch(ctx, command.ChatEvent{
		Channel: name,
		UserID:  msg.Tags.Get("user-id"),
		Login:   login,
		Display: display,
		Text:    msg.Text,
		Tags:    msg.Tags,
	})
	if outcome != command.OutcomeUnknown {
		slog.Debug("dispatch", slog.String("channel", name), slog.String("outcome", outcome.String()))
	}
}
