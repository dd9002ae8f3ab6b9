package poll

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"coinfolio/internal/domain"
)

// Poller couples a Registry to a Scheduler: the first hot key starts
// the timer, the last cold key stops it. Transitions are serialized
// under one mutex so subscribe/unsubscribe from the UI context and
// tick-driven reads never interleave partially.
type Poller struct {
	mu       sync.Mutex
	registry *Registry
	sched    *Scheduler

	baseCtx   context.Context
	lifecycle LifecycleSource
	logger    zerolog.Logger
}

// NewPoller builds a Poller around a fresh registry and scheduler.
func NewPoller(opts Options, refresh RefreshFunc, logger zerolog.Logger) *Poller {
	registry := NewRegistry(logger)
	sched := NewScheduler(opts, registry.ActiveKeys, refresh, logger)
	return &Poller{registry: registry, sched: sched, logger: logger}
}

// Init records the context bounding the poller's life and the lifecycle
// source, if any. Must be called before the first Subscribe.
func (p *Poller) Init(ctx context.Context, lifecycle LifecycleSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseCtx = ctx
	p.lifecycle = lifecycle
}

// Subscribe registers interest in a key and reports whether it became
// hot. Starting the scheduler on the empty→non-empty transition happens
// here; triggering an immediate refresh is left to the caller.
func (p *Poller) Subscribe(key domain.Key) (newlyHot bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasEmpty := p.registry.IsEmpty()
	newlyHot = p.registry.Subscribe(key)
	if wasEmpty && newlyHot {
		// Stop cleared any previous lifecycle binding; re-bind so a
		// restarted scheduler still honours background/foreground.
		if p.lifecycle != nil {
			p.sched.BindLifecycle(p.lifecycle)
		}
		p.sched.Start(p.baseCtx)
	}
	return newlyHot
}

// Unsubscribe releases one reference to a key, stopping the scheduler
// when the last key goes cold.
func (p *Poller) Unsubscribe(key domain.Key) (becameCold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	becameCold = p.registry.Unsubscribe(key)
	if becameCold && p.registry.IsEmpty() {
		p.sched.Stop()
	}
	return becameCold
}

// Reset drops every subscription and stops the scheduler.
func (p *Poller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.Reset()
	p.sched.Stop()
}

// ActiveKeys snapshots the hot key set.
func (p *Poller) ActiveKeys() []domain.Key {
	return p.registry.ActiveKeys()
}

// RefCount exposes the registry count for a key.
func (p *Poller) RefCount(key domain.Key) uint {
	return p.registry.RefCount(key)
}

// State exposes the scheduler state.
func (p *Poller) State() State {
	return p.sched.State()
}
