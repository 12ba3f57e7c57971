// Package irc implements the subset of the IRC line protocol spoken by the
// Twitch chat gateway: IRCv3 message tags, prefixes, verbs/numerics, and the
// websocket transport the gateway serves it over.
package irc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProtocol indicates a line that does not parse as an IRC message.
// Such lines are logged and dropped; they never terminate the session.
var ErrProtocol = errors.New("irc: malformed message")

// Message is a single parsed inbound IRC line.
type Message struct {
	// Raw is the line exactly as received, without the trailing CR-LF.
	Raw string

	// Tags holds IRCv3 message tags (unescaped values). Nil when the line
	// carried no tags section.
	Tags Tags

	// Nick is the sender's login name parsed from the prefix, or empty for
	// server-originated lines (tmi.twitch.tv, jtv).
	Nick string

	// Command is the IRC verb or numeric: PRIVMSG, PING, 001, 353, ...
	Command string

	// Params are the middle parameters, excluding the trailing parameter.
	Params []string

	// Text is the trailing parameter (the part after " :"), or empty.
	Text string
}

// Tags is the parsed IRCv3 tags section of a message.
type Tags map[string]string

// Get returns the tag value, or empty string when absent.
func (t Tags) Get(key string) string {
	if t == nil {
		return ""
	}
	return t[key]
}

// Bool reports whether a tag carries the literal value "1" (the convention
// used by the gateway's mod/subscriber/turbo flags).
func (t Tags) Bool(key string) bool { return t.Get(key) == "1" }

// Channel returns the first parameter that names a channel, with the leading
// '#' removed, or empty when the message is not channel-scoped.
func (m *Message) Channel() string {
	for _, p := range m.Params {
		if strings.HasPrefix(p, "#") {
			return strings.TrimPrefix(p, "#")
		}
	}
	return ""
}

// IsCapAck reports whether this is a capability acknowledgement (CAP * ACK).
func (m *Message) IsCapAck() bool {
	return m.Command == "CAP" && len(m.Params) >= 2 && m.Params[1] == "ACK"
}

// Capabilities returns the acknowledged capability names from a CAP ACK line,
// with the "twitch.tv/" vendor prefix removed.
func (m *Message) Capabilities() []string {
	caps := strings.Fields(m.Text)
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, strings.TrimPrefix(c, "twitch.tv/"))
	}
	return out
}

// ParseMessage parses one raw IRC line. The trailing parameter, if present,
// is exposed as Text; a CTCP ACTION payload is normalized to the "/me" form
// chat users typed it as.
func ParseMessage(raw string) (*Message, error) {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("%w: empty line", ErrProtocol)
	}
	m := &Message{Raw: line}
	rest := line

	if strings.HasPrefix(rest, "@") {
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return nil, fmt.Errorf("%w: tags without command: %q", ErrProtocol, raw)
		}
		m.Tags = parseTags(rest[1:i])
		rest = rest[i+1:]
	}

	if strings.HasPrefix(rest, ":") {
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return nil, fmt.Errorf("%w: prefix without command: %q", ErrProtocol, raw)
		}
		m.Nick = nickFromPrefix(rest[1:i])
		rest = rest[i+1:]
	}

	// Split off the trailing parameter before tokenizing the middles.
	if i := strings.Index(rest, " :"); i >= 0 {
		m.Text = normalizeAction(rest[i+2:])
		rest = rest[:i]
	} else if strings.HasPrefix(rest, ":") {
		m.Text = normalizeAction(rest[1:])
		rest = ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: missing command: %q", ErrProtocol, raw)
	}
	m.Command = strings.ToUpper(fields[0])
	m.Params = fields[1:]
	return m, nil
}

// parseTags splits the tags section and unescapes values per the IRCv3
// message-tags escaping rules.
func parseTags(s string) Tags {
	tags := make(Tags)
	for _, pair := range strings.Split(s, ";") {
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			tags[k] = ""
			continue
		}
		tags[k] = unescapeTag(v)
	}
	return tags
}

func unescapeTag(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i == len(v)-1 {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// nickFromPrefix extracts the login from a "nick!user@host" prefix. Server
// prefixes (no '!') yield an empty nick.
func nickFromPrefix(prefix string) string {
	nick, _, found := strings.Cut(prefix, "!")
	if !found {
		return ""
	}
	return nick
}

// normalizeAction rewrites a CTCP ACTION payload ("\x01ACTION waves\x01")
// into the "/me waves" form.
func normalizeAction(text string) string {
	if strings.HasPrefix(text, "\x01ACTION") {
		return "/me" + strings.TrimSuffix(text[len("\x01ACTION"):], "\x01")
	}
	return text
}

// Outbound line builders. The gateway accepts bare lines; framing (CR-LF or
// one websocket frame per line) is the transport's concern.

// PassLine authenticates the connection with a user OAuth token.
func PassLine(token string) string { return "PASS " + token }

// NickLine sets the login name for the connection.
func NickLine(username string) string { return "NICK " + username }

// CapReqLine requests protocol capabilities by their short names
// (commands, membership, tags).
func CapReqLine(caps []string) string {
	full := make([]string, len(caps))
	for i, c := range caps {
		full[i] = "twitch.tv/" + c
	}
	return "CAP REQ :" + strings.Join(full, " ")
}

// JoinLine requests membership in a channel.
func JoinLine(channel string) string { return "JOIN #" + channel }

// PartLine leaves a channel.
func PartLine(channel string) string { return "PART #" + channel }

// PongLine answers a server keepalive.
func PongLine() string { return "PONG :tmi.twitch.tv" }

// PingLine emits a client-originated keepalive; the server echoes the token
// back in a PONG.
func PingLine(token string) string { return "PING :" + token }

// PrivmsgLine sends a chat message to a channel.
func PrivmsgLine(channel, text string) string {
	return fmt.Sprintf("PRIVMSG #%s :%s", channel, text)
}
