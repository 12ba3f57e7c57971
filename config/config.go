// Package config loads environment variables into an immutable typed Settings
// value used across the bot. Parsing happens once at startup with typed
// defaults; malformed input fails fast via Validate.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func getenv(key string) string { return os.Getenv(key) }

// DefaultCapabilities are the protocol extensions requested during
// negotiation when TWITCH_CAPABILITIES is unset.
var DefaultCapabilities = []string{"commands", "membership", "tags"}

// Settings is the full bot configuration. It is constructed before the
// session starts and treated as read-only thereafter.
type Settings struct {
	// Identity / credentials
	Username     string // bot account login
	OAuthToken   string // user token for IRC auth, "oauth:..." form
	ClientID     string // application credential pair, used for Helix
	ClientSecret string

	// Channels
	OnlineChannels  []string // respond while the channel is live
	OfflineChannels []string // respond while the channel is offline

	// Gateway
	GatewayURL   string
	Capabilities []string
	PingInterval time.Duration // client keepalive period
	PongTimeout  time.Duration // deadline to see a PONG before forcing a disconnect

	// Behavior
	HistoryLimit    int    // per-channel history ring capacity
	ShowErrors      bool   // surface dispatch failures to the originating channel
	VerboseIRC      bool   // log every protocol line
	TimestampFormat string // 12h | 24h | uptime (console display)

	// Ranks
	Owner     string
	Admins    []string
	Blacklist []string

	// External collaborators
	DBDsn    string // identity store
	HTTPAddr string // health/status/metrics server
}

type env func(string) string

// Load reads Settings from the process environment.
func Load() (*Settings, error) { return load(getenv) }

func load(get env) (*Settings, error) {
	s := &Settings{
		Username:        strings.ToLower(get("TWITCH_BOT_USERNAME")),
		OAuthToken:      get("TWITCH_OAUTH_TOKEN"),
		ClientID:        get("TWITCH_CLIENT_ID"),
		ClientSecret:    get("TWITCH_CLIENT_SECRET"),
		OnlineChannels:  splitList(get("TWITCH_ONLINE_CHANNELS")),
		OfflineChannels: splitList(get("TWITCH_OFFLINE_CHANNELS")),
		GatewayURL:      get("TWITCH_GATEWAY_URL"),
		Capabilities:    splitList(get("TWITCH_CAPABILITIES")),
		HistoryLimit:    1000,
		ShowErrors:      true,
		VerboseIRC:      get("VERBOSE_IRC") == "1",
		TimestampFormat: get("TIMESTAMP_FORMAT"),
		Owner:           strings.ToLower(get("BOT_OWNER")),
		Admins:          splitList(get("BOT_ADMINS")),
		Blacklist:       splitList(get("BOT_BLACKLIST")),
		DBDsn:           get("DB_DSN"),
		HTTPAddr:        get("HTTP_ADDR"),
		PingInterval:    time.Minute,
		PongTimeout:     15 * time.Second,
	}

	if s.GatewayURL == "" {
		s.GatewayURL = "ws://irc-ws.chat.twitch.tv:80"
	}
	if len(s.Capabilities) == 0 {
		s.Capabilities = append([]string(nil), DefaultCapabilities...)
	}
	if s.TimestampFormat == "" {
		s.TimestampFormat = "24h"
	}
	if s.Owner == "" {
		// Default owner is the bot account itself.
		s.Owner = s.Username
	}
	if s.HTTPAddr == "" {
		s.HTTPAddr = ":8080"
	}

	if v := get("HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid HISTORY_LIMIT %q: must be a positive integer", v)
		}
		s.HistoryLimit = n
	}
	if v := get("SHOW_ERRORS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SHOW_ERRORS %q: %w", v, err)
		}
		s.ShowErrors = b
	}
	if v := get("PING_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid PING_INTERVAL %q", v)
		}
		s.PingInterval = d
	}
	if v := get("PONG_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid PONG_TIMEOUT %q", v)
		}
		s.PongTimeout = d
	}
	return s, nil
}

// Validate checks that the settings are complete enough to run the bot.
func (s *Settings) Validate() error {
	if s.Username == "" {
		return fmt.Errorf("missing TWITCH_BOT_USERNAME")
	}
	if s.OAuthToken == "" {
		return fmt.Errorf("missing TWITCH_OAUTH_TOKEN")
	}
	if !strings.HasPrefix(s.OAuthToken, "oauth:") {
		return fmt.Errorf("TWITCH_OAUTH_TOKEN must start with %q", "oauth:")
	}
	if len(s.Channels()) == 0 {
		return fmt.Errorf("no channels configured: set TWITCH_ONLINE_CHANNELS and/or TWITCH_OFFLINE_CHANNELS")
	}
	u, err := url.Parse(s.GatewayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid TWITCH_GATEWAY_URL %q: want ws:// or wss://", s.GatewayURL)
	}
	switch s.TimestampFormat {
	case "12h", "24h", "uptime":
	default:
		return fmt.Errorf("invalid TIMESTAMP_FORMAT %q: want 12h, 24h or uptime", s.TimestampFormat)
	}
	return nil
}

// Channels returns the union of online-mode and offline-mode channels,
// deduplicated, in stable order.
func (s *Settings) Channels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ch := range append(append([]string(nil), s.OnlineChannels...), s.OfflineChannels...) {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// Online reports whether the channel is configured to respond while live.
func (s *Settings) Online(channel string) bool { return contains(s.OnlineChannels, channel) }

// Offline reports whether the channel is configured to respond while offline.
func (s *Settings) Offline(channel string) bool { return contains(s.OfflineChannels, channel) }

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
