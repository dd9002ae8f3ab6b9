package poll

import (
	"os"
	"os/signal"
	"sync"

	"github.com/rs/zerolog"
)

// Signal is an application lifecycle transition delivered to schedulers.
type Signal int

const (
	// SignalBackground asks running schedulers to suspend polling.
	SignalBackground Signal = iota
	// SignalForeground asks suspended schedulers to resume polling.
	SignalForeground
)

// LifecycleSource delivers background/foreground signals. Subscribe
// registers a handler and returns a cancel func that removes it.
type LifecycleSource interface {
	Subscribe(fn func(Signal)) (cancel func())
}

// OSLifecycle maps two process signals onto the lifecycle events, so an
// operator can pause and resume polling without restarting the daemon.
type OSLifecycle struct {
	notifier
	ch     chan os.Signal
	done   chan struct{}
	logger zerolog.Logger
}

// NewOSLifecycle starts listening for the given suspend/resume signals.
func NewOSLifecycle(suspend, resume os.Signal, logger zerolog.Logger) *OSLifecycle {
	l := &OSLifecycle{
		ch:     make(chan os.Signal, 1),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
	signal.Notify(l.ch, suspend, resume)

	go func() {
		for {
			select {
			case sig := <-l.ch:
				if sig == suspend {
					l.logger.Info().Str("signal", sig.String()).Msg("entering background")
					l.publish(SignalBackground)
				} else {
					l.logger.Info().Str("signal", sig.String()).Msg("becoming active")
					l.publish(SignalForeground)
				}
			case <-l.done:
				return
			}
		}
	}()
	return l
}

// Close stops signal delivery.
func (l *OSLifecycle) Close() {
	signal.Stop(l.ch)
	close(l.done)
}

// notifier is a small fan-out of lifecycle signals to subscribers.
// Reused by test fakes through the LifecycleSource interface.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Signal)
}

func (n *notifier) Subscribe(fn func(Signal)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(Signal))
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *notifier) publish(sig Signal) {
	n.mu.Lock()
	fns := make([]func(Signal), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}
