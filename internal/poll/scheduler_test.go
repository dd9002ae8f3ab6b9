package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"coinfolio/internal/domain"
)

func staticKeys(keys ...domain.Key) KeysFunc {
	return func() []domain.Key { return keys }
}

func countingRefresh(count *atomic.Int64) RefreshFunc {
	return func(ctx context.Context, key domain.Key) {
		count.Add(1)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerTicksRefreshEveryKey(t *testing.T) {
	var count atomic.Int64
	s := NewScheduler(Options{Interval: 5 * time.Millisecond}, staticKeys(btcUSD(), ethUSD()), countingRefresh(&count), noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	if got := s.State(); got != Running {
		t.Fatalf("state = %s, want running", got)
	}
	waitFor(t, time.Second, func() bool { return count.Load() >= 4 })
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	var count atomic.Int64
	s := NewScheduler(Options{Interval: time.Hour}, staticKeys(btcUSD()), countingRefresh(&count), noopLogger())

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	defer s.Stop()

	if got := s.State(); got != Running {
		t.Fatalf("state = %s, want running", got)
	}
}

func TestSchedulerSuspendResume(t *testing.T) {
	var count atomic.Int64
	s := NewScheduler(Options{Interval: 5 * time.Millisecond}, staticKeys(btcUSD()), countingRefresh(&count), noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()
	waitFor(t, time.Second, func() bool { return count.Load() >= 1 })

	s.Suspend()
	if got := s.State(); got != Suspended {
		t.Fatalf("state = %s, want suspended", got)
	}

	// No ticks fire while suspended.
	suspendedAt := count.Load()
	time.Sleep(30 * time.Millisecond)
	if got := count.Load(); got != suspendedAt {
		t.Fatalf("refresh count advanced while suspended: %d -> %d", suspendedAt, got)
	}

	s.Resume()
	if got := s.State(); got != Running {
		t.Fatalf("state = %s, want running after resume", got)
	}
	waitFor(t, time.Second, func() bool { return count.Load() > suspendedAt })
}

func TestSchedulerResumeWithoutKeysStaysSuspended(t *testing.T) {
	var count atomic.Int64
	s := NewScheduler(Options{Interval: time.Hour}, staticKeys(), countingRefresh(&count), noopLogger())

	s.Start(context.Background())
	defer s.Stop()
	s.Suspend()
	s.Resume()

	if got := s.State(); got != Suspended {
		t.Fatalf("state = %s, want suspended when no keys are active", got)
	}
}

func TestSchedulerLifecycleSignals(t *testing.T) {
	var count atomic.Int64
	src := &notifier{}
	s := NewScheduler(Options{Interval: time.Hour}, staticKeys(btcUSD()), countingRefresh(&count), noopLogger())
	s.BindLifecycle(src)

	s.Start(context.Background())
	defer s.Stop()

	src.publish(SignalBackground)
	if got := s.State(); got != Suspended {
		t.Fatalf("state = %s, want suspended after background signal", got)
	}

	src.publish(SignalForeground)
	if got := s.State(); got != Running {
		t.Fatalf("state = %s, want running after foreground signal", got)
	}
}

func TestSchedulerStopClearsLifecycleBinding(t *testing.T) {
	src := &notifier{}
	var count atomic.Int64
	s := NewScheduler(Options{Interval: time.Hour}, staticKeys(btcUSD()), countingRefresh(&count), noopLogger())
	s.BindLifecycle(src)

	s.Start(context.Background())
	s.Stop()

	src.publish(SignalForeground)
	if got := s.State(); got != Stopped {
		t.Fatalf("state = %s, want stopped; lifecycle listener leaked", got)
	}
}

func TestSchedulerPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive interval")
		}
	}()
	NewScheduler(Options{}, staticKeys(), nil, noopLogger())
}
