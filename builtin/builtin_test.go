package builtin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/chatbot/bot"
	"github.com/onnwee/chatbot/channel"
	"github.com/onnwee/chatbot/config"
	"github.com/onnwee/chatbot/telemetry"
	"github.com/onnwee/chatbot/timer"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

type nopTransport struct{}

func (nopTransport) Connect(ctx context.Context) error            { return nil }
func (nopTransport) ConnectWithBackoff(ctx context.Context) error { return nil }
func (nopTransport) SendLine(ctx context.Context, line string) error {
	return errors.New("not connected")
}
func (nopTransport) ReadBatch(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (nopTransport) Connected() bool { return false }
func (nopTransport) Close() error    { return nil }

func newTestBot(t *testing.T) *bot.Bot {
	t.Helper()
	cfg := &config.Settings{
		Username:       "testbot",
		OAuthToken:     "oauth:x",
		OnlineChannels: []string{"testchan"},
		HistoryLimit:   10,
		Owner:          "theowner",
		PingInterval:   time.Hour,
		PongTimeout:    time.Hour,
	}
	return bot.New(cfg, nopTransport{}, channel.NewRegistry(cfg.HistoryLimit, nil))
}

func TestRegisterInstallsStockCommands(t *testing.T) {
	b := newTestBot(t)
	if err := Register(b, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, name := range []string{"bot", "cmds", "help", "status", "live", "users", "mods", "say", "toggle", "prefix", "@"} {
		if _, ok := b.Dispatcher().Find(name); !ok {
			t.Errorf("command %q not registered", name)
		}
	}
	// The commands alias resolves to cmds.
	info, ok := b.Dispatcher().Find("commands")
	if !ok || info.Name != "cmds" {
		t.Errorf("alias commands resolved to %+v, %t", info, ok)
	}
	// The relay command is hidden and takes an empty prefix.
	relay, _ := b.Dispatcher().Find("@")
	if !relay.Hidden {
		t.Error("relay command should be hidden")
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	b := newTestBot(t)
	if err := Register(b, nil); err != nil {
		t.Fatal(err)
	}
	if err := Register(b, nil); err == nil {
		t.Error("second Register should fail on name collisions")
	}
}

func TestRegisterWithoutLiveCheckerSkipsPolling(t *testing.T) {
	b := newTestBot(t)
	if err := Register(b, nil); err != nil {
		t.Fatal(err)
	}
	// Without a checker the live-status timer is not installed, so its name
	// is still free; the always-on timers are not.
	free := &timer.Timer{Name: "live-status", Period: time.Minute, Handler: func(ctx context.Context) error { return nil }}
	if err := b.Scheduler().Register(free); err != nil {
		t.Errorf("live-status should be unregistered without a checker: %v", err)
	}
	taken := &timer.Timer{Name: "identity-flush", Period: time.Minute, Handler: func(ctx context.Context) error { return nil }}
	if err := b.Scheduler().Register(taken); err == nil {
		t.Error("identity-flush should already be registered")
	}
}
