package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry holds one breaker per backend name. The registry lock only
// guards the map; each breaker synchronizes its own state.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	settings Settings
	opts     options
}

func NewRegistry(settings Settings, opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		settings: settings.normalized(),
		opts:     buildOptions(opts),
	}
}

// Settings returns the normalized settings applied to new breakers.
func (r *Registry) Settings() Settings {
	return r.settings
}

// GetBreaker returns the breaker for name, creating it closed on first use.
func (r *Registry) GetBreaker(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = newBreaker(name, r.settings, r.opts)
	r.breakers[name] = cb
	return cb
}

// Admit reports whether a request to the named backend may proceed.
func (r *Registry) Admit(name string) bool {
	return r.GetBreaker(name).Allow()
}

// RecordOutcome feeds a dispatch outcome back into the named breaker.
func (r *Registry) RecordOutcome(name string, succeeded bool) {
	r.GetBreaker(name).RecordOutcome(succeeded)
}

// AdmitRequest is Admit with a receipt for Release.
func (r *Registry) AdmitRequest(name string) (Admission, bool) {
	return r.GetBreaker(name).AdmitRequest()
}

// Release gives back an admission that produced no outcome.
func (r *Registry) Release(name string, adm Admission) {
	r.GetBreaker(name).Release(adm)
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.State()
	}
	return stats
}

// Snapshots returns every breaker's state ordered by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mutex.RLock()
	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	r.mutex.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
