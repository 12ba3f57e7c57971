package timer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/chatbot/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

func TestRegisterValidation(t *testing.T) {
	s := NewScheduler(nil)
	ok := func(ctx context.Context) error { return nil }
	tests := []struct {
		name string
		t    *Timer
	}{
		{"no name", &Timer{Period: time.Second, Handler: ok}},
		{"no handler", &Timer{Name: "x", Period: time.Second}},
		{"zero period", &Timer{Name: "x", Handler: ok}},
	}
	for _, tt := range tests {
		if err := s.Register(tt.t); err == nil {
			t.Errorf("%s: Register should fail", tt.name)
		}
	}
	if err := s.Register(&Timer{Name: "x", Period: time.Second, Handler: ok}); err != nil {
		t.Fatalf("valid Register: %v", err)
	}
	if err := s.Register(&Timer{Name: "x", Period: time.Second, Handler: ok}); err == nil {
		t.Error("duplicate name should fail")
	}
}

func TestRegisterAfterStartFails(t *testing.T) {
	s := NewScheduler(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	err := s.Register(&Timer{Name: "late", Period: time.Second, Handler: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Error("Register after Start should fail")
	}
}

func TestTimerFiresImmediatelyThenOnPeriod(t *testing.T) {
	s := NewScheduler(nil)
	var fired atomic.Int32
	if err := s.Register(&Timer{
		Name:    "tick",
		Period:  20 * time.Millisecond,
		Handler: func(ctx context.Context) error { fired.Add(1); return nil },
	}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for fired.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("fired %d times, want at least 3", fired.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTimerFailureIsolatedAndReported(t *testing.T) {
	var mu sync.Mutex
	var reported []string
	s := NewScheduler(func(ctx context.Context, name string, err error) {
		mu.Lock()
		reported = append(reported, name)
		mu.Unlock()
	})
	var healthy atomic.Int32
	boom := errors.New("boom")
	if err := s.Register(&Timer{
		Name:    "failing",
		Period:  15 * time.Millisecond,
		Handler: func(ctx context.Context) error { return boom },
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(&Timer{
		Name:    "panicking",
		Period:  15 * time.Millisecond,
		Handler: func(ctx context.Context) error { panic("down") },
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(&Timer{
		Name:    "healthy",
		Period:  15 * time.Millisecond,
		Handler: func(ctx context.Context) error { healthy.Add(1); return nil },
	}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for healthy.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("healthy timer starved: %d firings", healthy.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	sawFailing, sawPanicking := false, false
	for _, name := range reported {
		switch name {
		case "failing":
			sawFailing = true
		case "panicking":
			sawPanicking = true
		}
	}
	if !sawFailing || !sawPanicking {
		t.Errorf("reporter saw %v, want both failing and panicking", reported)
	}
}

func TestTimersStopOnCancel(t *testing.T) {
	s := NewScheduler(nil)
	var fired atomic.Int32
	if err := s.Register(&Timer{
		Name:    "stopper",
		Period:  10 * time.Millisecond,
		Handler: func(ctx context.Context) error { fired.Add(1); return nil },
	}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(30 * time.Millisecond)
	n := fired.Load()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != n {
		t.Error("timer kept firing after cancel")
	}
}
