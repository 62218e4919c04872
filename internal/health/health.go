// Package health assesses an agent's health from a set of signals using a
// worst-signal-wins rule, and classifies the resulting failure mode
// (spec.md §4.S). Ported from original_source/core/src/monitor/health.rs.
package health

import "fmt"

// State is an agent's overall assessed health.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
	StateUnknown   State = "unknown"
)

// SignalKind discriminates the health signals that feed an assessment.
type SignalKind int

const (
	SignalInfrastructureOk SignalKind = iota
	SignalInfrastructureFailed
	SignalHeartbeatRecent
	SignalHeartbeatStale
	SignalSSHConnected
	SignalSSHDisconnected
	SignalErrorPatternDetected
	SignalExplicitError
)

// Signal is one observed health indicator for an agent.
type Signal struct {
	Kind    SignalKind
	Reason  string // InfrastructureFailed
	AgeSecs uint64 // HeartbeatRecent, HeartbeatStale
	Pattern string // ErrorPatternDetected
	Message string // ExplicitError
}

// Assessment is the outcome of combining an agent's signals.
type Assessment struct {
	Agent       string
	Overall     State
	Signals     []Signal
	Reason      string
	TimestampMs int64
}

func rank(s State) int {
	switch s {
	case StateDegraded:
		return 1
	case StateUnhealthy:
		return 2
	default:
		return 0
	}
}

func worstOf(a, b State) State {
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

// Assess combines signals into a single assessment using the worst-signal-
// wins rule: InfrastructureFailed/SSHDisconnected -> Unhealthy;
// HeartbeatStale beyond the full timeout -> Unhealthy, beyond half the
// timeout -> Degraded; ErrorPatternDetected/ExplicitError -> Degraded; no
// signals at all -> Unknown.
func Assess(agentName string, signals []Signal, heartbeatTimeoutSecs uint64, nowMs int64) Assessment {
	if len(signals) == 0 {
		return Assessment{
			Agent:       agentName,
			Overall:     StateUnknown,
			Reason:      "no signals available",
			TimestampMs: nowMs,
		}
	}

	worst := StateHealthy
	reason := ""

	for _, s := range signals {
		switch s.Kind {
		case SignalInfrastructureFailed:
			worst = worstOf(worst, StateUnhealthy)
			reason = fmt.Sprintf("infrastructure failed: %s", s.Reason)
		case SignalSSHDisconnected:
			worst = worstOf(worst, StateUnhealthy)
			if reason == "" {
				reason = "SSH disconnected"
			}
		case SignalHeartbeatStale:
			if s.AgeSecs > heartbeatTimeoutSecs {
				worst = worstOf(worst, StateUnhealthy)
				reason = fmt.Sprintf("heartbeat stale (%ds > %ds timeout)", s.AgeSecs, heartbeatTimeoutSecs)
			} else if s.AgeSecs > heartbeatTimeoutSecs/2 {
				worst = worstOf(worst, StateDegraded)
				if reason == "" {
					reason = fmt.Sprintf("heartbeat aging (%ds > %ds warning threshold)", s.AgeSecs, heartbeatTimeoutSecs/2)
				}
			}
		case SignalErrorPatternDetected:
			worst = worstOf(worst, StateDegraded)
			if reason == "" {
				reason = fmt.Sprintf("error pattern detected: %s", s.Pattern)
			}
		case SignalExplicitError:
			worst = worstOf(worst, StateDegraded)
			if reason == "" {
				reason = fmt.Sprintf("explicit error: %s", s.Message)
			}
		case SignalInfrastructureOk, SignalHeartbeatRecent, SignalSSHConnected:
			// Positive signals don't change worst state.
		}
	}

	if reason == "" {
		reason = "all signals healthy"
	}

	return Assessment{
		Agent:       agentName,
		Overall:     worst,
		Signals:     signals,
		Reason:      reason,
		TimestampMs: nowMs,
	}
}

// FailureMode classifies a health problem for use by escalation logic.
type FailureMode string

const (
	FailureNone           FailureMode = "none"
	FailureInfrastructure FailureMode = "infrastructure"
	FailureAgent          FailureMode = "agent"
	FailureStrategic      FailureMode = "strategic"
)

// ClassifyFailure derives a FailureMode from a completed Assessment:
// Unhealthy with an infra/SSH signal -> Infrastructure; Unhealthy without
// one -> Agent (the agent itself stalled); Degraded with an error-pattern
// or explicit-error signal -> Agent; anything else -> None.
func ClassifyFailure(a Assessment) FailureMode {
	switch a.Overall {
	case StateHealthy, StateUnknown:
		return FailureNone
	case StateUnhealthy:
		for _, s := range a.Signals {
			if s.Kind == SignalInfrastructureFailed || s.Kind == SignalSSHDisconnected {
				return FailureInfrastructure
			}
		}
		return FailureAgent
	case StateDegraded:
		for _, s := range a.Signals {
			if s.Kind == SignalErrorPatternDetected || s.Kind == SignalExplicitError {
				return FailureAgent
			}
		}
		return FailureNone
	default:
		return FailureNone
	}
}
