package config

import (
	"strings"
	"testing"
	"time"
)

func fakeEnv(vars map[string]string) env {
	return func(key string) string { return vars[key] }
}

func TestLoadDefaults(t *testing.T) {
	s, err := load(fakeEnv(map[string]string{
		"TWITCH_BOT_USERNAME":    "MyBot",
		"TWITCH_OAUTH_TOKEN":     "oauth:secret",
		"TWITCH_ONLINE_CHANNELS": "chana, ChanB",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Username != "mybot" {
		t.Errorf("Username = %q, want lowercased mybot", s.Username)
	}
	if s.GatewayURL != "ws://irc-ws.chat.twitch.tv:80" {
		t.Errorf("GatewayURL default = %q", s.GatewayURL)
	}
	if len(s.Capabilities) != 3 {
		t.Errorf("Capabilities default = %v", s.Capabilities)
	}
	if s.HistoryLimit != 1000 {
		t.Errorf("HistoryLimit default = %d", s.HistoryLimit)
	}
	if !s.ShowErrors {
		t.Error("ShowErrors should default true")
	}
	if s.Owner != "mybot" {
		t.Errorf("Owner should default to the bot account, got %q", s.Owner)
	}
	if s.PingInterval != time.Minute || s.PongTimeout != 15*time.Second {
		t.Errorf("keepalive defaults = %v / %v", s.PingInterval, s.PongTimeout)
	}
	if got := s.Channels(); len(got) != 2 || got[0] != "chana" || got[1] != "chanb" {
		t.Errorf("Channels() = %v", got)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	base := map[string]string{
		"TWITCH_BOT_USERNAME":    "bot",
		"TWITCH_OAUTH_TOKEN":     "oauth:x",
		"TWITCH_ONLINE_CHANNELS": "c",
	}
	tests := []struct{ key, value string }{
		{"HISTORY_LIMIT", "zero"},
		{"HISTORY_LIMIT", "-5"},
		{"SHOW_ERRORS", "maybe"},
		{"PING_INTERVAL", "soon"},
		{"PONG_TIMEOUT", "-1s"},
	}
	for _, tt := range tests {
		vars := make(map[string]string, len(base)+1)
		for k, v := range base {
			vars[k] = v
		}
		vars[tt.key] = tt.value
		if _, err := load(fakeEnv(vars)); err == nil {
			t.Errorf("load with %s=%q should fail", tt.key, tt.value)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Username:        "bot",
			OAuthToken:      "oauth:x",
			OnlineChannels:  []string{"c"},
			GatewayURL:      "wss://example.test",
			TimestampFormat: "24h",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"ok", func(s *Settings) {}, ""},
		{"no username", func(s *Settings) { s.Username = "" }, "TWITCH_BOT_USERNAME"},
		{"no token", func(s *Settings) { s.OAuthToken = "" }, "TWITCH_OAUTH_TOKEN"},
		{"token without prefix", func(s *Settings) { s.OAuthToken = "raw-token" }, "oauth:"},
		{"no channels", func(s *Settings) { s.OnlineChannels = nil }, "no channels"},
		{"http gateway", func(s *Settings) { s.GatewayURL = "http://x" }, "TWITCH_GATEWAY_URL"},
		{"bad timestamp format", func(s *Settings) { s.TimestampFormat = "iso" }, "TIMESTAMP_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestOnlineOffline(t *testing.T) {
	s := &Settings{
		OnlineChannels:  []string{"a", "both"},
		OfflineChannels: []string{"b", "both"},
	}
	if !s.Online("a") || s.Online("b") {
		t.Error("Online() misclassified")
	}
	if !s.Offline("b") || s.Offline("a") {
		t.Error("Offline() misclassified")
	}
	if got := s.Channels(); len(got) != 3 {
		t.Errorf("Channels() should deduplicate, got %v", got)
	}
}
