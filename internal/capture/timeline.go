package capture

import (
	"fmt"
	"strings"
)

// EventKind discriminates a Timeline event's variant.
type EventKind int

const (
	Started EventKind = iota
	ProgressUpdate
	PhaseChange
	OutputEvent
	ErrorOccurred
	Paused
	Resumed
	Completed
	Failed
)

// Event is a single recorded timeline event. Only the fields relevant to
// Kind are populated, mirroring the original's tagged enum.
type Event struct {
	Kind     EventKind
	Ms       uint64
	Percent  uint32
	Message  string
	From, To string
	Text     string
	Error    string
	Reason   string
	ExitCode int32
}

// TimestampMs returns the event's timestamp regardless of kind.
func (e Event) TimestampMs() uint64 {
	return e.Ms
}

// IsTerminal reports whether the event ends an execution (Completed or
// Failed).
func (e Event) IsTerminal() bool {
	return e.Kind == Completed || e.Kind == Failed
}

// Timeline is an ordered, append-only log of events for one execution.
type Timeline struct {
	ExecutionID string
	Events      []Event
}

// NewTimeline creates an empty timeline for executionID.
func NewTimeline(executionID string) *Timeline {
	return &Timeline{ExecutionID: executionID}
}

// Record appends event to the timeline.
func (t *Timeline) Record(event Event) {
	t.Events = append(t.Events, event)
}

// DurationMs returns the span from the first Started event to the last
// terminal event. Returns false if either is missing.
func (t *Timeline) DurationMs() (uint64, bool) {
	var start uint64
	found := false
	for _, e := range t.Events {
		if e.Kind == Started {
			start = e.Ms
			found = true
			break
		}
	}
	if !found {
		return 0, false
	}

	var end uint64
	found = false
	for i := len(t.Events) - 1; i >= 0; i-- {
		e := t.Events[i]
		if e.Kind == Completed || e.Kind == Failed {
			end = e.Ms
			found = true
			break
		}
	}
	if !found {
		return 0, false
	}

	if end < start {
		return 0, true
	}
	return end - start, true
}

// CurrentPhase returns the most recent PhaseChange's destination phase.
func (t *Timeline) CurrentPhase() (string, bool) {
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i].Kind == PhaseChange {
			return t.Events[i].To, true
		}
	}
	return "", false
}

// ProgressPercent returns the most recent ProgressUpdate's percentage.
func (t *Timeline) ProgressPercent() (uint32, bool) {
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i].Kind == ProgressUpdate {
			return t.Events[i].Percent, true
		}
	}
	return 0, false
}

// EventsSince returns every event at or after ms, in original order.
func (t *Timeline) EventsSince(ms uint64) []Event {
	var out []Event
	for _, e := range t.Events {
		if e.TimestampMs() >= ms {
			out = append(out, e)
		}
	}
	return out
}

// LatestError returns the most recent ErrorOccurred or Failed event's
// message.
func (t *Timeline) LatestError() (string, bool) {
	for i := len(t.Events) - 1; i >= 0; i-- {
		e := t.Events[i]
		if e.Kind == ErrorOccurred || e.Kind == Failed {
			return e.Error, true
		}
	}
	return "", false
}

// PhaseDurations computes how long each phase lasted, measured from the
// PhaseChange event that entered it to the next PhaseChange (or the final
// event, if it was the last phase entered).
func (t *Timeline) PhaseDurations() map[string]uint64 {
	durations := make(map[string]uint64)

	type change struct {
		ms   uint64
		name string
	}
	var changes []change
	for _, e := range t.Events {
		if e.Kind == PhaseChange {
			changes = append(changes, change{ms: e.Ms, name: e.To})
		}
	}
	if len(changes) == 0 {
		return durations
	}

	var endMs uint64
	if len(t.Events) > 0 {
		endMs = t.Events[len(t.Events)-1].TimestampMs()
	}

	for i, c := range changes {
		nextMs := endMs
		if i+1 < len(changes) {
			nextMs = changes[i+1].ms
		}
		d := saturatingSub(nextMs, c.ms)
		durations[c.name] += d
	}

	return durations
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// EventCount returns the number of events recorded.
func (t *Timeline) EventCount() int {
	return len(t.Events)
}

// IsFinished reports whether any recorded event is terminal.
func (t *Timeline) IsFinished() bool {
	for _, e := range t.Events {
		if e.IsTerminal() {
			return true
		}
	}
	return false
}

// View generates human-readable summaries from a Timeline.
type View struct {
	timeline *Timeline
}

// NewView wraps timeline for display.
func NewView(timeline *Timeline) *View {
	return &View{timeline: timeline}
}

// Summary returns a one-line description of the execution's state.
func (v *View) Summary() string {
	phase, ok := v.timeline.CurrentPhase()
	if !ok {
		phase = "unknown"
	}

	progress := ""
	if p, ok := v.timeline.ProgressPercent(); ok {
		progress = fmt.Sprintf(" (%d%%)", p)
	}

	duration := ""
	if d, ok := v.timeline.DurationMs(); ok {
		duration = fmt.Sprintf(" [%dms]", d)
	}

	status := "active"
	if v.timeline.IsFinished() {
		status = "finished"
	}

	return fmt.Sprintf("%s: %s — %s%s%s", v.timeline.ExecutionID, status, phase, progress, duration)
}

// EventLog returns a multi-line, chronological rendering of every event.
func (v *View) EventLog() string {
	lines := make([]string, 0, len(v.timeline.Events))
	for _, e := range v.timeline.Events {
		var desc string
		switch e.Kind {
		case Started:
			desc = "started"
		case ProgressUpdate:
			desc = fmt.Sprintf("progress: %d%% — %s", e.Percent, e.Message)
		case PhaseChange:
			desc = fmt.Sprintf("phase: %s -> %s", e.From, e.To)
		case OutputEvent:
			desc = fmt.Sprintf("output: %s", e.Text)
		case ErrorOccurred:
			desc = fmt.Sprintf("error: %s", e.Error)
		case Paused:
			desc = fmt.Sprintf("paused: %s", e.Reason)
		case Resumed:
			desc = "resumed"
		case Completed:
			desc = fmt.Sprintf("completed (exit %d)", e.ExitCode)
		case Failed:
			desc = fmt.Sprintf("failed: %s", e.Error)
		}
		lines = append(lines, fmt.Sprintf("[%dms] %s", e.TimestampMs(), desc))
	}
	return strings.Join(lines, "\n")
}
