// Package timer runs registered recurring actions, each on its own period.
// Timers fire independently of one another and of the protocol session:
// a handler failure or an unsendable session is reported and the schedule
// simply continues, with no catch-up firing.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatbot/telemetry"
)

// Handler is the pluggable action a timer runs. A returned error is isolated
// to this firing and reported through the scheduler's reporter.
type Handler func(ctx context.Context) error

// Timer describes one recurring action. Registered once at startup; only the
// scheduler advances its schedule afterwards.
type Timer struct {
	Name    string
	Period  time.Duration
	Handler Handler
}

// Reporter receives isolated handler failures, typically to surface them the
// same way command handler failures are surfaced.
type Reporter func(ctx context.Context, timerName string, err error)

// Scheduler drives all registered timers. Each timer gets its own goroutine
// so one slow or failing handler never delays another's schedule.
type Scheduler struct {
	mu       sync.Mutex
	timers   map[string]*Timer
	started  bool
	reporter Reporter
}

// NewScheduler returns an empty scheduler. The reporter may be nil.
func NewScheduler(reporter Reporter) *Scheduler {
	return &Scheduler{timers: make(map[string]*Timer), reporter: reporter}
}

// Register adds a timer. Names are unique; registration after Start is a
// configuration error.
func (s *Scheduler) Register(t *Timer) error {
	if t.Name == "" || t.Handler == nil || t.Period <= 0 {
		return fmt.Errorf("timer %q: name, positive period and handler required", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("timer %q: scheduler already started", t.Name)
	}
	if _, exists := s.timers[t.Name]; exists {
		return fmt.Errorf("timer %q already registered", t.Name)
	}
	s.timers[t.Name] = t
	return nil
}

// Start launches every registered timer and returns. Timers run until the
// context is canceled; they keep firing across session reconnects.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	timers := make([]*Timer, 0, len(s.timers))
	for _, t := range s.timers {
		timers = append(timers, t)
	}
	s.mu.Unlock()
	for _, t := range timers {
		go s.run(ctx, t)
	}
	slog.Info("timer scheduler started", slog.Int("timers", len(timers)))
}

// run fires the timer once immediately, then on every period tick. The
// ticker drops missed ticks, which gives the required no-catch-up behavior
// when a handler overruns or the process stalls.
func (s *Scheduler) run(ctx context.Context, t *Timer) {
	s.fire(ctx, t)
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, t)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *Timer) {
	telemetry.TimerFirings.Inc()
	if err := s.safeCall(ctx, t); err != nil {
		telemetry.TimerFailures.Inc()
		slog.Warn("timer handler failed", slog.String("timer", t.Name), slog.Any("err", err))
		if s.reporter != nil {
			s.reporter(ctx, t.Name, err)
		}
	}
}

func (s *Scheduler) safeCall(ctx context.Context, t *Timer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer %q panicked: %v", t.Name, r)
		}
	}()
	return t.Handler(ctx)
}
