package irc

import (
	"errors"
	"testing"
)

func TestParseMessagePrivmsg(t *testing.T) {
	raw := "@badge-info=;display-name=SomeUser;mod=1;subscriber=0;user-id=1234 :someuser!someuser@someuser.tmi.twitch.tv PRIVMSG #mychan :hello there"
	m, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Command != "PRIVMSG" {
		t.Errorf("Command = %q, want PRIVMSG", m.Command)
	}
	if m.Nick != "someuser" {
		t.Errorf("Nick = %q, want someuser", m.Nick)
	}
	if m.Channel() != "mychan" {
		t.Errorf("Channel() = %q, want mychan", m.Channel())
	}
	if m.Text != "hello there" {
		t.Errorf("Text = %q, want %q", m.Text, "hello there")
	}
	if got := m.Tags.Get("user-id"); got != "1234" {
		t.Errorf("user-id tag = %q, want 1234", got)
	}
	if !m.Tags.Bool("mod") {
		t.Error("mod tag should be true")
	}
	if m.Tags.Bool("subscriber") {
		t.Error("subscriber tag should be false")
	}
}

func TestParseMessageTagUnescaping(t *testing.T) {
	m, err := ParseMessage(`@system-msg=5\sraiders\sfrom\sChan\shave\sjoined!;msg-id=raid :tmi.twitch.tv USERNOTICE #mychan`)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got, want := m.Tags.Get("system-msg"), "5 raiders from Chan have joined!"; got != want {
		t.Errorf("system-msg = %q, want %q", got, want)
	}
}

func TestParseMessageNumericAndServerPrefix(t *testing.T) {
	m, err := ParseMessage(":tmi.twitch.tv 001 botname :Welcome, GLHF!")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Command != "001" {
		t.Errorf("Command = %q, want 001", m.Command)
	}
	if m.Nick != "" {
		t.Errorf("server prefix should yield empty nick, got %q", m.Nick)
	}
	if len(m.Params) != 1 || m.Params[0] != "botname" {
		t.Errorf("Params = %v, want [botname]", m.Params)
	}
}

func TestParseMessageCapAck(t *testing.T) {
	m, err := ParseMessage(":tmi.twitch.tv CAP * ACK :twitch.tv/commands twitch.tv/tags")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !m.IsCapAck() {
		t.Fatal("IsCapAck() = false, want true")
	}
	caps := m.Capabilities()
	if len(caps) != 2 || caps[0] != "commands" || caps[1] != "tags" {
		t.Errorf("Capabilities() = %v, want [commands tags]", caps)
	}
}

func TestParseMessageActionNormalized(t *testing.T) {
	m, err := ParseMessage(":u!u@u.tmi.twitch.tv PRIVMSG #c :\x01ACTION waves\x01")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Text != "/me waves" {
		t.Errorf("Text = %q, want %q", m.Text, "/me waves")
	}
}

func TestParseMessagePing(t *testing.T) {
	m, err := ParseMessage("PING :tmi.twitch.tv")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Command != "PING" || m.Text != "tmi.twitch.tv" {
		t.Errorf("got command %q text %q", m.Command, m.Text)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	for _, raw := range []string{"", "\r\n", "@tags-only", ":prefix-only"} {
		if _, err := ParseMessage(raw); !errors.Is(err, ErrProtocol) {
			t.Errorf("ParseMessage(%q) error = %v, want ErrProtocol", raw, err)
		}
	}
}

func TestLineBuilders(t *testing.T) {
	tests := []struct{ got, want string }{
		{PassLine("oauth:abc"), "PASS oauth:abc"},
		{NickLine("mybot"), "NICK mybot"},
		{CapReqLine([]string{"commands", "tags"}), "CAP REQ :twitch.tv/commands twitch.tv/tags"},
		{JoinLine("mychan"), "JOIN #mychan"},
		{PartLine("mychan"), "PART #mychan"},
		{PongLine(), "PONG :tmi.twitch.tv"},
		{PingLine("keepalive"), "PING :keepalive"},
		{PrivmsgLine("mychan", "hi"), "PRIVMSG #mychan :hi"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
