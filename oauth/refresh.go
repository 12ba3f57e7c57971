// Package oauth keeps the chat credential fresh: a background loop with
// jittered checks refreshes the stored token when its expiry falls within the
// configured window and hands the new credential to the session.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/chatbot/db"
)

// RefreshFunc performs the provider-specific refresh grant and returns the
// new access token, refresh token, expiry, and scope.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// NotifyFunc receives each freshly refreshed access token. The bot uses it to
// swap the credential used on the next reconnect.
type NotifyFunc func(accessToken string)

// StartRefresher launches the refresh loop for one provider row and returns.
// Checks wake on a jittered interval so multiple instances sharing a database
// do not stampede the token endpoint.
func StartRefresher(ctx context.Context, pool *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc, notify NotifyFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	go func() {
		delay := time.Duration(rand.Int63n(int64(interval / 2)))
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = jittered(interval)

			_, refresh, expiry, _, err := db.GetToken(ctx, pool, provider)
			if err != nil {
				slog.Warn("token lookup failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			if refresh == "" || time.Until(expiry) > window {
				continue
			}

			rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			access, newRefresh, newExpiry, scope, err := fn(rctx, refresh)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			if newRefresh == "" {
				newRefresh = refresh
			}
			if err := db.UpsertToken(ctx, pool, provider, access, newRefresh, newExpiry, scope); err != nil {
				slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			if notify != nil {
				notify(access)
			}
			slog.Info("token refreshed", slog.String("provider", provider), slog.Time("expires", newExpiry))
		}
	}()
}

// jittered spreads the interval by up to twenty percent either way, never
// dropping below half the base interval.
func jittered(interval time.Duration) time.Duration {
	span := int64(interval / 5)
	d := interval + time.Duration(rand.Int63n(span*2)-span)
	if d < interval/2 {
		d = interval / 2
	}
	return d
}
