package poll

import (
	"sync"

	"github.com/rs/zerolog"

	"coinfolio/internal/domain"
)

// Registry is a reference-counted set of subscription keys. Each key is
// held once per interested consumer; a key is "hot" while its count is
// above zero and is removed the moment the count reaches zero.
type Registry struct {
	mu     sync.Mutex
	subs   map[domain.Key]uint
	logger zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		subs:   make(map[domain.Key]uint),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Subscribe increments the key's reference count, creating it at one if
// absent. It reports whether the key went from absent to present.
func (r *Registry) Subscribe(key domain.Key) (newlyHot bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, exists := r.subs[key]
	r.subs[key] = count + 1
	if exists {
		r.logger.Debug().Stringer("key", key).Uint("refcount", count+1).Msg("subscription retained")
		return false
	}
	r.logger.Debug().Stringer("key", key).Msg("subscription became hot")
	return true
}

// Unsubscribe decrements the key's reference count and reports whether
// the key was removed. Unsubscribing a key that was never subscribed is
// a no-op; the count can never go negative.
func (r *Registry) Unsubscribe(key domain.Key) (becameCold bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, exists := r.subs[key]
	if !exists {
		return false
	}
	if count > 1 {
		r.subs[key] = count - 1
		r.logger.Debug().Stringer("key", key).Uint("refcount", count-1).Msg("subscription released")
		return false
	}
	delete(r.subs, key)
	r.logger.Debug().Stringer("key", key).Msg("subscription became cold")
	return true
}

// RefCount returns the current reference count for a key, zero if absent.
func (r *Registry) RefCount(key domain.Key) uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[key]
}

// IsEmpty reports whether no key is hot.
func (r *Registry) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs) == 0
}

// ActiveKeys returns a snapshot of the hot keys, not a live view.
func (r *Registry) ActiveKeys() []domain.Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]domain.Key, 0, len(r.subs))
	for key := range r.subs {
		keys = append(keys, key)
	}
	return keys
}

// Reset drops every subscription unconditionally. Used when the tracked
// universe is rebuilt wholesale.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.subs) > 0 {
		r.logger.Debug().Int("dropped", len(r.subs)).Msg("registry reset")
	}
	r.subs = make(map[domain.Key]uint)
}
