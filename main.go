// Command chatbot is a persistent Twitch chat bot. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres for identity and token persistence (optional).
//   - Joins the configured channels over a single IRC-over-websocket session
//     and keeps them joined across reconnects.
//   - Dispatches chat commands, runs recurring timers, and refreshes the
//     chat OAuth token in the background.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatbot/bot"
	"github.com/onnwee/chatbot/builtin"
	"github.com/onnwee/chatbot/channel"
	"github.com/onnwee/chatbot/config"
	"github.com/onnwee/chatbot/db"
	"github.com/onnwee/chatbot/irc"
	"github.com/onnwee/chatbot/oauth"
	"github.com/onnwee/chatbot/server"
	"github.com/onnwee/chatbot/telemetry"
	"github.com/onnwee/chatbot/twitchapi"
)

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()
	setupLogging("")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg.TimestampFormat)

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("chatbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The identity store and token refresher need Postgres; without a DSN the
	// bot runs with in-memory identities and a static token.
	var pool *sql.DB
	var store channel.Store
	if cfg.DBDsn != "" {
		pool, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		store = &db.IdentityStore{Pool: pool}
	} else {
		slog.Warn("DB_DSN not set, identities will not persist")
	}

	registry := channel.NewRegistry(cfg.HistoryLimit, store)
	if err := registry.LoadIdentities(ctx); err != nil {
		slog.Warn("identity load failed", slog.Any("err", err))
	}

	b := bot.New(cfg, irc.NewConn(cfg.GatewayURL), registry)

	if pool != nil {
		// Refreshed credentials apply on the next reconnect.
		oauth.StartRefresher(ctx, pool, "twitch", 5*time.Minute, 15*time.Minute,
			func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				res, err := twitchapi.RefreshUserToken(rctx, cfg.ClientID, cfg.ClientSecret, refreshToken)
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
			},
			func(access string) { b.SetToken("oauth:" + access) })
	}

	var helix *twitchapi.HelixClient
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		helix = twitchapi.NewHelix(cfg.ClientID, cfg.ClientSecret)
	} else {
		slog.Warn("no client credentials, live-status polling disabled")
	}
	var checker builtin.LiveChecker
	if helix != nil {
		checker = helix
	}
	if err := builtin.Register(b, checker); err != nil {
		slog.Error("builtin registration failed", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, func() (string, any) {
			st := b.Status()
			return st.State, st
		}); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("bot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

var processStart = time.Now()

// setupLogging configures the default logger. tsFormat styles the console
// timestamp (12h, 24h, or uptime); JSON output always keeps RFC3339 times.
func setupLogging(tsFormat string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       lvl,
			ReplaceAttr: timestampAttr(tsFormat),
		})
	}
	slog.SetDefault(slog.New(handler))
}

func timestampAttr(tsFormat string) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.TimeKey || len(groups) > 0 {
			return a
		}
		switch tsFormat {
		case "12h":
			a.Value = slog.StringValue(a.Value.Time().Format("3:04:05 PM"))
		case "24h":
			a.Value = slog.StringValue(a.Value.Time().Format("15:04:05"))
		case "uptime":
			a.Value = slog.StringValue(a.Value.Time().Sub(processStart).Round(time.Second).String())
		}
		return a
	}
}
