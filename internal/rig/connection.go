// Package rig tracks SSH connection state per remote host and computes
// retry eligibility and exponential backoff delays (spec.md §4.U). No
// network I/O happens here — pure state management, ported from
// original_source/core/src/rig/connection.rs.
package rig

import (
	"fmt"
	"sort"
)

// ConnStateKind discriminates a connection's lifecycle phase.
type ConnStateKind int

const (
	ConnDisconnected ConnStateKind = iota
	ConnConnecting
	ConnConnected
	ConnFailed
)

// ConnState is the current state of a connection to a remote host.
type ConnState struct {
	Kind    ConnStateKind
	SinceMs int64  // Connecting, Connected
	Reason  string // Failed
	AtMs    int64  // Failed
}

// ConnectionInfo is the full tracked metadata for one remote.
type ConnectionInfo struct {
	Remote        string
	State         ConnState
	Attempts      uint32
	LastSuccessMs *int64
	LastFailureMs *int64
	LatencyMs     *uint64
}

// ConnectionSummary aggregates connection counts by state.
type ConnectionSummary struct {
	Total        int
	Connected    int
	Connecting   int
	Failed       int
	Disconnected int
}

// Tracker tracks connection state for all registered remotes and computes
// retry budgets/backoff without performing any network operations.
type Tracker struct {
	connections   map[string]*ConnectionInfo
	maxRetries    uint32
	backoffBaseMs uint64
}

// NewTracker creates a tracker with the given retry budget and backoff
// base. Retries use exponential backoff: backoffBaseMs * 2^(attempt-1).
func NewTracker(maxRetries uint32, backoffBaseMs uint64) *Tracker {
	return &Tracker{
		connections:   make(map[string]*ConnectionInfo),
		maxRetries:    maxRetries,
		backoffBaseMs: backoffBaseMs,
	}
}

// Register adds remote for tracking. Idempotent: a second call for an
// already-registered remote is a no-op and does not reset its state.
func (t *Tracker) Register(remote string) {
	if _, ok := t.connections[remote]; !ok {
		t.connections[remote] = &ConnectionInfo{Remote: remote, State: ConnState{Kind: ConnDisconnected}}
	}
}

func (t *Tracker) get(remote string) (*ConnectionInfo, error) {
	info, ok := t.connections[remote]
	if !ok {
		return nil, fmt.Errorf("remote %q not registered", remote)
	}
	return info, nil
}

// StartConnecting records that a connection attempt has started.
func (t *Tracker) StartConnecting(remote string, nowMs int64) error {
	info, err := t.get(remote)
	if err != nil {
		return err
	}
	info.State = ConnState{Kind: ConnConnecting, SinceMs: nowMs}
	info.Attempts++
	return nil
}

// MarkConnected records that a connection has been established.
func (t *Tracker) MarkConnected(remote string, nowMs int64, latencyMs uint64) error {
	info, err := t.get(remote)
	if err != nil {
		return err
	}
	info.State = ConnState{Kind: ConnConnected, SinceMs: nowMs}
	info.LastSuccessMs = &nowMs
	info.LatencyMs = &latencyMs
	return nil
}

// MarkFailed records that a connection attempt has failed.
func (t *Tracker) MarkFailed(remote, reason string, nowMs int64) error {
	info, err := t.get(remote)
	if err != nil {
		return err
	}
	info.State = ConnState{Kind: ConnFailed, Reason: reason, AtMs: nowMs}
	info.LastFailureMs = &nowMs
	return nil
}

// Disconnect transitions remote to Disconnected without recording a
// failure.
func (t *Tracker) Disconnect(remote string) error {
	info, err := t.get(remote)
	if err != nil {
		return err
	}
	info.State = ConnState{Kind: ConnDisconnected}
	return nil
}

// State returns the current connection state for remote, if registered.
func (t *Tracker) State(remote string) (ConnState, bool) {
	info, ok := t.connections[remote]
	if !ok {
		return ConnState{}, false
	}
	return info.State, true
}

// Info returns the full connection metadata for remote, if registered.
func (t *Tracker) Info(remote string) (ConnectionInfo, bool) {
	info, ok := t.connections[remote]
	if !ok {
		return ConnectionInfo{}, false
	}
	return *info, true
}

// IsConnected reports whether remote is currently Connected.
func (t *Tracker) IsConnected(remote string) bool {
	info, ok := t.connections[remote]
	return ok && info.State.Kind == ConnConnected
}

func (t *Tracker) failureCount(remote string) uint32 {
	info, ok := t.connections[remote]
	if !ok || info.State.Kind != ConnFailed {
		return 0
	}
	return info.Attempts
}

// ShouldRetry reports whether remote is in the Failed state and its
// failure count is still within the configured retry budget.
func (t *Tracker) ShouldRetry(remote string) bool {
	info, ok := t.connections[remote]
	if !ok || info.State.Kind != ConnFailed {
		return false
	}
	return t.failureCount(remote) <= t.maxRetries
}

// NextRetryMs computes the exponential backoff delay for remote's next
// retry attempt, or nil if the remote isn't currently Failed.
func (t *Tracker) NextRetryMs(remote string) *uint64 {
	info, ok := t.connections[remote]
	if !ok || info.State.Kind != ConnFailed {
		return nil
	}
	failures := t.failureCount(remote)
	if failures == 0 {
		base := t.backoffBaseMs
		return &base
	}
	exponent := failures - 1
	if exponent > 16 {
		exponent = 16
	}
	delay := t.backoffBaseMs << exponent
	return &delay
}

// ConnectedRemotes returns the names of all remotes currently Connected,
// sorted for determinism.
func (t *Tracker) ConnectedRemotes() []string {
	return t.remotesInState(ConnConnected)
}

// FailedRemotes returns the names of all remotes currently Failed, sorted
// for determinism.
func (t *Tracker) FailedRemotes() []string {
	return t.remotesInState(ConnFailed)
}

func (t *Tracker) remotesInState(kind ConnStateKind) []string {
	var names []string
	for name, info := range t.connections {
		if info.State.Kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Summary returns aggregate counts of all tracked connections by state.
func (t *Tracker) Summary() ConnectionSummary {
	s := ConnectionSummary{Total: len(t.connections)}
	for _, info := range t.connections {
		switch info.State.Kind {
		case ConnDisconnected:
			s.Disconnected++
		case ConnConnecting:
			s.Connecting++
		case ConnConnected:
			s.Connected++
		case ConnFailed:
			s.Failed++
		}
	}
	return s
}

// ResetAttempts zeroes the attempt counter for remote.
func (t *Tracker) ResetAttempts(remote string) error {
	info, err := t.get(remote)
	if err != nil {
		return err
	}
	info.Attempts = 0
	return nil
}
