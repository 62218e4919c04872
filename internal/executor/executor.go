// Package executor runs a planned action list through a pluggable backend
// with per-action retry tracking (spec.md §4.J). Ported from
// original_source/core/src/convergence/executor.rs.
package executor

import (
	"github.com/ianremillard/cmx/internal/planner"
	"github.com/ianremillard/cmx/internal/retry"
)

// Backend is the abstract capability the executor drives actions through
// (spec.md §9 "dynamic dispatch" — the only polymorphism needed is at this
// seam).
type Backend interface {
	ExecuteAction(a planner.Action) error
	SessionExists(name string) bool
	ListSessions() []string
	CapturePane(target string) (string, error)
}

// Result is the outcome of one Execute pass.
type Result struct {
	Succeeded   []planner.Action
	Failed      []FailedAction
	RetriesUsed int
}

// FailedAction pairs an action with the error its last attempt produced.
type FailedAction struct {
	Action planner.Action
	Err    string
}

// Executor drives actions through a Backend, retrying failures according to
// its retry.Tracker's policy.
type Executor struct {
	tracker *retry.Tracker
}

// New returns an Executor enforcing policy across all action keys.
func New(policy retry.Policy) *Executor {
	return &Executor{tracker: retry.NewTracker(policy)}
}

// Execute runs every action in actions through backend, re-queueing
// failures the tracker says can still be retried, until a pass produces no
// re-queued actions.
func (e *Executor) Execute(actions []planner.Action, backend Backend) Result {
	var succeeded []planner.Action
	var failed []FailedAction
	retriesUsed := 0
	pending := actions

	for {
		var stillFailing []planner.Action
		var lastErrors []FailedAction

		for _, action := range pending {
			key := planner.Key(action)
			if err := backend.ExecuteAction(action); err != nil {
				e.tracker.RecordFailure(key)
				if e.tracker.CanRetry(key) {
					retriesUsed++
					stillFailing = append(stillFailing, action)
				} else {
					lastErrors = append(lastErrors, FailedAction{Action: action, Err: err.Error()})
				}
				continue
			}
			e.tracker.RecordSuccess(key)
			succeeded = append(succeeded, action)
		}

		failed = append(failed, lastErrors...)

		if len(stillFailing) == 0 {
			break
		}
		pending = stillFailing
	}

	return Result{Succeeded: succeeded, Failed: failed, RetriesUsed: retriesUsed}
}
