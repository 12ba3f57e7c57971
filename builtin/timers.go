package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/chatbot/bot"
	"github.com/onnwee/chatbot/channel"
	"github.com/onnwee/chatbot/timer"
)

const (
	livePollPeriod      = 30 * time.Second
	identityFlushPeriod = 5 * time.Minute
	rateWindowPeriod    = 30 * time.Second
)

// LiveChecker answers which of the given channel logins are currently
// streaming. Implemented by the Helix client.
type LiveChecker interface {
	LiveLogins(ctx context.Context, logins []string) (map[string]bool, error)
}

func registerTimers(b *bot.Bot, helix LiveChecker) error {
	timers := []*timer.Timer{
		{
			Name:    "identity-flush",
			Period:  identityFlushPeriod,
			Handler: func(ctx context.Context) error { return b.Channels().Flush(ctx) },
		},
		{
			Name:   "rate-window",
			Period: rateWindowPeriod,
			Handler: func(ctx context.Context) error {
				b.ResetRateWindows()
				return nil
			},
		},
	}
	if helix != nil {
		timers = append(timers, &timer.Timer{
			Name:    "live-status",
			Period:  livePollPeriod,
			Handler: livePoll(b, helix),
		})
	}
	for _, t := range timers {
		if err := b.Scheduler().Register(t); err != nil {
			return err
		}
	}
	return nil
}

// livePoll asks Helix which joined channels are streaming and updates each
// channel's live flag, which in turn drives online/offline responsiveness.
func livePoll(b *bot.Bot, helix LiveChecker) timer.Handler {
	return func(ctx context.Context) error {
		names := b.Channels().Names()
		if len(names) == 0 {
			return nil
		}
		logins := make([]string, len(names))
		for i, n := range names {
			logins[i] = strings.TrimPrefix(n, "#")
		}
		live, err := helix.LiveLogins(ctx, logins)
		if err != nil {
			return fmt.Errorf("live status poll: %w", err)
		}
		for i, name := range names {
			isLive := live[logins[i]]
			b.Channels().Update(name, func(ch *channel.Channel) {
				if ch.Live != isLive {
					slog.Info("live state changed", slog.String("channel", name), slog.Bool("live", isLive))
				}
				ch.Live = isLive
			})
		}
		return nil
	}
}
