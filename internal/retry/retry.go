// Package retry implements the per-action retry tracker (spec.md §4.K): an
// attempt counter and policy evaluation, keyed by canonical action key. The
// tracker never sleeps itself; backoff delay is the caller/backend's
// responsibility (spec.md §5).
package retry

// BackoffKind names the backoff shape recorded in a Policy. The tracker
// itself never acts on this; it is metadata for whoever actually sleeps.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// Policy configures how many attempts an action key gets before it's
// considered permanently failed.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffKind
	BaseDelayMs int64
}

// NewPolicy is a small convenience constructor mirroring the teacher's
// preference for named constructors over bare struct literals in call sites
// that need to be readable at a glance.
func NewPolicy(maxAttempts int, backoff BackoffKind, baseDelayMs int64) Policy {
	return Policy{MaxAttempts: maxAttempts, Backoff: backoff, BaseDelayMs: baseDelayMs}
}

// State is the per-key retry bookkeeping.
type State struct {
	Attempts        int
	LastFailureMs   int64
}

// Tracker holds retry State per canonical action key under a single Policy.
type Tracker struct {
	policy Policy
	byKey  map[string]*State
}

// NewTracker returns a Tracker enforcing policy across all keys.
func NewTracker(policy Policy) *Tracker {
	return &Tracker{policy: policy, byKey: make(map[string]*State)}
}

// RecordSuccess clears the retry state for a key.
func (t *Tracker) RecordSuccess(key string) {
	delete(t.byKey, key)
}

// RecordFailure increments the attempt counter for a key.
func (t *Tracker) RecordFailure(key string) {
	s, ok := t.byKey[key]
	if !ok {
		s = &State{}
		t.byKey[key] = s
	}
	s.Attempts++
}

// CanRetry reports whether a key's attempt count is still under the
// policy's max.
func (t *Tracker) CanRetry(key string) bool {
	s, ok := t.byKey[key]
	if !ok {
		return true
	}
	return s.Attempts < t.policy.MaxAttempts
}

// State returns the current retry bookkeeping for a key.
func (t *Tracker) State(key string) (State, bool) {
	s, ok := t.byKey[key]
	if !ok {
		return State{}, false
	}
	return *s, true
}
