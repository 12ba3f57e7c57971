// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup for the bot.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LinesRead        prometheus.Counter
	MessagesRecorded prometheus.Counter
	HistoryEvicted   prometheus.Counter
	ProtocolErrors   prometheus.Counter
	Reconnects       prometheus.Counter
	SendFailures     prometheus.Counter
	TimerFirings     prometheus.Counter
	TimerFailures    prometheus.Counter

	// Dispatch outcomes, labeled by outcome name (ok, unknown, denied, ...).
	Dispatches *prometheus.CounterVec

	// Gauges
	JoinedChannels prometheus.Gauge
	SessionState   prometheus.Gauge // numeric session state, see bot package
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LinesRead = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_lines_read_total", Help: "Raw IRC lines received from the gateway"})
		MessagesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_messages_recorded_total", Help: "Chat messages appended to channel history"})
		HistoryEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_history_evicted_total", Help: "History entries evicted by the FIFO ring"})
		ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_protocol_errors_total", Help: "Malformed IRC lines dropped"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_reconnects_total", Help: "Successful reconnects after a dropped gateway connection"})
		SendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_send_failures_total", Help: "Outbound line sends that failed"})
		TimerFirings = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_timer_firings_total", Help: "Timer handler invocations"})
		TimerFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatbot_timer_failures_total", Help: "Timer handler invocations that returned an error"})
		Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatbot_dispatches_total", Help: "Command dispatch attempts by outcome"}, []string{"outcome"})
		JoinedChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatbot_joined_channels", Help: "Channels currently joined"})
		SessionState = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatbot_session_state", Help: "Protocol session state (0=disconnected .. 5=closing)"})
	})
}

// CountDispatch records a dispatch outcome if metrics are initialized.
func CountDispatch(outcome string) {
	if Dispatches != nil {
		Dispatches.WithLabelValues(outcome).Inc()
	}
}

// SetJoinedChannels records the current joined-channel count.
func SetJoinedChannels(n int) {
	if JoinedChannels != nil {
		JoinedChannels.Set(float64(n))
	}
}

// SetSessionState records the numeric protocol session state.
func SetSessionState(s int) {
	if SessionState != nil {
		SessionState.Set(float64(s))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if one is present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
