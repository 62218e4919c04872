// Package watch implements the long-poll watch registry (spec.md §4.E):
// connections parked awaiting a state change, notified on the next change
// or evicted once their deadline passes.
package watch

import (
	"net"

	"github.com/ianremillard/cmx/internal/cmxproto"
	"github.com/ianremillard/cmx/internal/frame"
)

// Watcher is one parked connection.
type Watcher struct {
	conn       net.Conn
	sinceMs    *int64
	deadlineMs int64
}

// Registry holds parked watchers and tracks the timestamp of the most
// recent state change.
type Registry struct {
	watchers      []*Watcher
	lastChangeMs  int64
	hasLastChange bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register parks conn. sinceMs is nil to mean "notify on any change since
// registration"; deadlineMs is the absolute wall-clock time (ms) after
// which the watcher is expired with a timeout response.
func (r *Registry) Register(conn net.Conn, sinceMs *int64, deadlineMs int64) {
	r.watchers = append(r.watchers, &Watcher{conn: conn, sinceMs: sinceMs, deadlineMs: deadlineMs})
}

// RecordChange records that a state change occurred at nowMs.
func (r *Registry) RecordChange(nowMs int64) {
	r.lastChangeMs = nowMs
	r.hasLastChange = true
}

// NotifyAll notifies and removes every watcher whose SinceMs precedes the
// most recent recorded change (or is nil). Watchers are fire-and-forget:
// a write error just drops the connection without blocking the caller.
// Returns the number of watchers notified.
func (r *Registry) NotifyAll(summary string, nowMs int64) int {
	if !r.hasLastChange {
		return 0
	}

	resp := cmxproto.Success(cmxproto.StateChangedToken + ": " + cmxproto.TruncateSummary(summary))

	var remaining []*Watcher
	notified := 0
	for _, w := range r.watchers {
		if w.sinceMs == nil || *w.sinceMs < r.lastChangeMs {
			frame.WriteJSON(w.conn, resp)
			w.conn.Close()
			notified++
			continue
		}
		remaining = append(remaining, w)
	}
	r.watchers = remaining
	return notified
}

// ExpireStale evicts every watcher whose deadline has passed, writing a
// timeout response before dropping each connection. Returns the number
// expired.
func (r *Registry) ExpireStale(nowMs int64) int {
	resp := cmxproto.Success(cmxproto.TimeoutOutput)

	var remaining []*Watcher
	expired := 0
	for _, w := range r.watchers {
		if nowMs >= w.deadlineMs {
			frame.WriteJSON(w.conn, resp)
			w.conn.Close()
			expired++
			continue
		}
		remaining = append(remaining, w)
	}
	r.watchers = remaining
	return expired
}

// Count returns the number of currently parked watchers.
func (r *Registry) Count() int {
	return len(r.watchers)
}
