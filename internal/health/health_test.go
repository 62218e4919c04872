package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthyAllOk(t *testing.T) {
	signals := []Signal{
		{Kind: SignalInfrastructureOk},
		{Kind: SignalHeartbeatRecent, AgeSecs: 5},
		{Kind: SignalSSHConnected},
	}
	result := Assess("w1", signals, 60, 1000)
	assert.Equal(t, StateHealthy, result.Overall)
	assert.Contains(t, result.Reason, "healthy")
}

func TestNoSignalsUnknown(t *testing.T) {
	result := Assess("w1", nil, 60, 1000)
	assert.Equal(t, StateUnknown, result.Overall)
}

func TestInfrastructureFailedUnhealthy(t *testing.T) {
	signals := []Signal{{Kind: SignalInfrastructureFailed, Reason: "tmux crashed"}}
	result := Assess("w1", signals, 60, 1000)
	assert.Equal(t, StateUnhealthy, result.Overall)
	assert.Contains(t, result.Reason, "infrastructure")
}

func TestSSHDisconnectedUnhealthy(t *testing.T) {
	result := Assess("w1", []Signal{{Kind: SignalSSHDisconnected}}, 60, 1000)
	assert.Equal(t, StateUnhealthy, result.Overall)
	assert.Contains(t, result.Reason, "SSH")
}

func TestHeartbeatStaleOverTimeoutUnhealthy(t *testing.T) {
	result := Assess("w1", []Signal{{Kind: SignalHeartbeatStale, AgeSecs: 120}}, 60, 1000)
	assert.Equal(t, StateUnhealthy, result.Overall)
	assert.Contains(t, result.Reason, "stale")
}

func TestHeartbeatStaleOverHalfTimeoutDegraded(t *testing.T) {
	result := Assess("w1", []Signal{{Kind: SignalHeartbeatStale, AgeSecs: 35}}, 60, 1000)
	assert.Equal(t, StateDegraded, result.Overall)
	assert.Contains(t, result.Reason, "aging")
}

func TestHeartbeatStaleUnderHalfTimeoutHealthy(t *testing.T) {
	result := Assess("w1", []Signal{{Kind: SignalHeartbeatStale, AgeSecs: 20}}, 60, 1000)
	assert.Equal(t, StateHealthy, result.Overall)
}

func TestErrorPatternDegraded(t *testing.T) {
	result := Assess("w1", []Signal{{Kind: SignalErrorPatternDetected, Pattern: "Traceback"}}, 60, 1000)
	assert.Equal(t, StateDegraded, result.Overall)
}

func TestWorstSignalWins(t *testing.T) {
	signals := []Signal{
		{Kind: SignalHeartbeatRecent, AgeSecs: 5},
		{Kind: SignalInfrastructureFailed, Reason: "disk full"},
		{Kind: SignalErrorPatternDetected, Pattern: "Error:"},
	}
	result := Assess("w1", signals, 60, 1000)
	assert.Equal(t, StateUnhealthy, result.Overall)
}

func TestClassifyHealthyIsNone(t *testing.T) {
	a := Assessment{Overall: StateHealthy, Signals: []Signal{{Kind: SignalInfrastructureOk}}}
	assert.Equal(t, FailureNone, ClassifyFailure(a))
}

func TestClassifyInfraFailure(t *testing.T) {
	a := Assessment{Overall: StateUnhealthy, Signals: []Signal{{Kind: SignalSSHDisconnected}}}
	assert.Equal(t, FailureInfrastructure, ClassifyFailure(a))
}

func TestClassifyAgentFailureStale(t *testing.T) {
	a := Assessment{Overall: StateUnhealthy, Signals: []Signal{{Kind: SignalHeartbeatStale, AgeSecs: 120}}}
	assert.Equal(t, FailureAgent, ClassifyFailure(a))
}

func TestClassifyAgentFailureErrorPattern(t *testing.T) {
	a := Assessment{Overall: StateDegraded, Signals: []Signal{{Kind: SignalErrorPatternDetected, Pattern: "Traceback"}}}
	assert.Equal(t, FailureAgent, ClassifyFailure(a))
}

func TestClassifyDegradedNoErrorIsNone(t *testing.T) {
	a := Assessment{Overall: StateDegraded, Signals: []Signal{{Kind: SignalHeartbeatStale, AgeSecs: 35}}}
	assert.Equal(t, FailureNone, ClassifyFailure(a))
}
