package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Rejecting requests
	StateHalfOpen              // Admitting a bounded number of trials
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings tune every breaker created by a registry.
type Settings struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxTrials int
}

// DefaultSettings trips after 5 consecutive failures and retries after a minute.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold:  5,
		RecoveryTimeout:   time.Minute,
		HalfOpenMaxTrials: 3,
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.FailureThreshold < 1 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = d.RecoveryTimeout
	}
	if s.HalfOpenMaxTrials < 1 {
		s.HalfOpenMaxTrials = 1
	}
	return s
}

// TransitionFunc is called after a breaker changes state, outside its lock.
type TransitionFunc func(name string, from, to State)

type Option func(*options)

type options struct {
	now          func() time.Time
	onTransition TransitionFunc
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTransitionHook registers a state change observer.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(o *options) { o.onTransition = fn }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	Trials              int       `json:"trials"`
}

// Admission is the receipt for one admitted request. It ties a half-open
// trial to the window that granted it.
type Admission struct {
	trial  bool
	window uint64
}

// Trial reports whether the admission took a half-open trial slot.
func (a Admission) Trial() bool {
	return a.trial
}

type CircuitBreaker struct {
	mutex       sync.Mutex
	name        string
	state       State
	failures    int
	lastFailure time.Time
	trials      int
	// window counts half-open periods.
	window uint64

	settings Settings
	opts     options
}

func NewCircuitBreaker(name string, settings Settings, opts ...Option) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		state:    StateClosed,
		settings: settings.normalized(),
		opts:     buildOptions(opts),
	}
}

func newBreaker(name string, settings Settings, o options) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		state:    StateClosed,
		settings: settings,
		opts:     o,
	}
}

// Allow decides whether a request may proceed. The first call after the
// recovery timeout moves an open breaker to half-open and becomes its
// first trial.
func (cb *CircuitBreaker) Allow() bool {
	_, allowed := cb.AdmitRequest()
	return allowed
}

// AdmitRequest is Allow with a receipt that Release can hand back.
func (cb *CircuitBreaker) AdmitRequest() (Admission, bool) {
	cb.mutex.Lock()
	from := cb.state
	var adm Admission
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.opts.now().Sub(cb.lastFailure) > cb.settings.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.window++
			cb.trials = 1
			adm = Admission{trial: true, window: cb.window}
			allowed = true
		}
	case StateHalfOpen:
		if cb.trials < cb.settings.HalfOpenMaxTrials {
			cb.trials++
			adm = Admission{trial: true, window: cb.window}
			allowed = true
		}
	}

	to := cb.state
	cb.mutex.Unlock()

	cb.notify(from, to)
	return adm, allowed
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	from := cb.state

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.trials = 0
	}

	to := cb.state
	cb.mutex.Unlock()

	cb.notify(from, to)
}

// RecordFailure counts a failed dispatch. A half-open breaker reopens
// immediately; a closed one opens at the failure threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	from := cb.state

	cb.failures++
	cb.lastFailure = cb.opts.now()

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.trials = 0
	case StateClosed:
		if cb.failures >= cb.settings.FailureThreshold {
			cb.state = StateOpen
		}
	}

	to := cb.state
	cb.mutex.Unlock()

	cb.notify(from, to)
}

// RecordOutcome records a completed dispatch.
func (cb *CircuitBreaker) RecordOutcome(succeeded bool) {
	if succeeded {
		cb.RecordSuccess()
		return
	}
	cb.RecordFailure()
}

// Release returns the half-open trial slot held by an admission that ended
// without an outcome, for example because the caller went away. Slots from
// an earlier half-open window, or admissions made while closed, are not
// returned.
func (cb *CircuitBreaker) Release(adm Admission) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !adm.trial || cb.state != StateHalfOpen || adm.window != cb.window {
		return
	}
	if cb.trials > 0 {
		cb.trials--
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Snapshot{
		Name:                cb.name,
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		LastFailure:         cb.lastFailure,
		Trials:              cb.trials,
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.opts.onTransition != nil {
		cb.opts.onTransition(cb.name, from, to)
	}
}
