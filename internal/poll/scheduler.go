package poll

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinfolio/internal/domain"
)

// State is the scheduler's lifecycle state.
type State int

const (
	// Stopped means no timer is armed and no keys are tracked.
	Stopped State = iota
	// Running means the recurring timer is armed.
	Running
	// Suspended means the app is backgrounded: the timer is cancelled
	// but the active key set is preserved for resume.
	Suspended
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// RefreshFunc is invoked once per active key on every tick. It must not
// block the caller; slow work belongs in the function body, which runs
// on its own goroutine.
type RefreshFunc func(ctx context.Context, key domain.Key)

// KeysFunc supplies the snapshot of keys to refresh at tick time.
type KeysFunc func() []domain.Key

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
}

// Scheduler drives periodic refreshes of a key set. State transitions:
// Stopped→Running on Start, Running→Suspended on a background signal,
// Suspended→Running on a foreground signal, any→Stopped on Stop.
type Scheduler struct {
	opts    Options
	keys    KeysFunc
	refresh RefreshFunc
	logger  zerolog.Logger

	mu         sync.Mutex
	state      State
	baseCtx    context.Context
	cancelTick context.CancelFunc
	unbind     func()
}

// NewScheduler constructs a stopped Scheduler.
func NewScheduler(opts Options, keys KeysFunc, refresh RefreshFunc, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:    opts,
		keys:    keys,
		refresh: refresh,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		state:   Stopped,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start arms the recurring timer. A no-op unless currently Stopped.
// ctx bounds the scheduler's whole life; refreshes inherit it so that
// suspension never cancels work already in flight.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return
	}
	s.baseCtx = ctx
	s.armLocked()
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")
}

// Stop cancels the timer, forgets the lifecycle binding, and returns to
// Stopped from any state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped {
		return
	}
	s.disarmLocked()
	if s.unbind != nil {
		s.unbind()
		s.unbind = nil
	}
	s.state = Stopped
	s.logger.Info().Msg("scheduler stopped")
}

// Suspend cancels the timer while keeping the key set. In-flight
// refreshes are allowed to complete. A no-op unless Running.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return
	}
	s.disarmLocked()
	s.state = Suspended
	s.logger.Info().Msg("scheduler suspended")
}

// Resume re-arms the timer after a suspension. The first tick fires one
// full interval later; an immediate refresh is the caller's choice.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Suspended {
		return
	}
	if len(s.keys()) == 0 {
		return
	}
	s.armLocked()
	s.logger.Info().Msg("scheduler resumed")
}

// BindLifecycle subscribes the scheduler to background/foreground
// signals. Bound exactly once; Stop removes the subscription so a
// stopped scheduler leaks no lifecycle listeners.
func (s *Scheduler) BindLifecycle(src LifecycleSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unbind != nil {
		return
	}
	s.unbind = src.Subscribe(func(sig Signal) {
		switch sig {
		case SignalBackground:
			s.Suspend()
		case SignalForeground:
			s.Resume()
		}
	})
}

// armLocked starts the tick loop. Caller holds s.mu.
func (s *Scheduler) armLocked() {
	tickCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancelTick = cancel
	s.state = Running

	base := s.baseCtx
	go s.run(tickCtx, base)
}

// disarmLocked cancels the tick loop. Caller holds s.mu.
func (s *Scheduler) disarmLocked() {
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
}

func (s *Scheduler) run(tickCtx, refreshCtx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-tickCtx.Done():
			return
		case <-ticker.C:
		}

		keys := s.keys()
		s.logger.Debug().Int("keys", len(keys)).Msg("tick")
		for _, key := range keys {
			// Fire and forget: one slow or failing key never delays
			// the others or the next tick.
			go s.refresh(refreshCtx, key)
		}
	}
}
