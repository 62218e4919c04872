package diagnosis

import (
	"testing"

	"github.com/ianremillard/cmx/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeReliability(t *testing.T) {
	events := []eventlog.Event{
		{Signal: eventlog.SignalType{Kind: eventlog.SignalHeartbeatStale}, Outcome: eventlog.OutcomeResolved, DurationMs: 1000},
		{Signal: eventlog.SignalType{Kind: eventlog.SignalHeartbeatStale}, Outcome: eventlog.OutcomeStillBroken},
		{Signal: eventlog.SignalType{Kind: eventlog.SignalHeartbeatStale}, Outcome: eventlog.OutcomeSelfResolved},
		{Signal: eventlog.SignalType{Kind: eventlog.SignalHeartbeatStale}, Outcome: eventlog.OutcomePending},
	}
	rel := ComputeReliability(events)
	r := rel[eventlog.SignalHeartbeatStale]
	assert.Equal(t, 3, r.TotalFires) // pending skipped
	assert.Equal(t, 2, r.TruePositives)
	assert.Equal(t, 1, r.FalsePositives)
	assert.InDelta(t, 2.0/3.0, r.ReliabilityScore, 1e-9)
	assert.Equal(t, int64(1000), r.AvgResolutionMs)
}

func TestComputeReliabilityDefaultsWhenNoData(t *testing.T) {
	rel := ComputeReliability(nil)
	assert.Empty(t, rel)
}

func TestComputeEffectiveness(t *testing.T) {
	events := []eventlog.Event{
		{Signal: eventlog.SignalType{Kind: eventlog.SignalOutputStall}, Action: eventlog.InterventionAction{Kind: eventlog.ActionRetry}, Outcome: eventlog.OutcomeResolved},
		{Signal: eventlog.SignalType{Kind: eventlog.SignalOutputStall}, Action: eventlog.InterventionAction{Kind: eventlog.ActionRetry}, Outcome: eventlog.OutcomeStillBroken},
	}
	eff := ComputeEffectiveness(events)
	e := eff[eventlog.SignalOutputStall+"\x00"+eventlog.ActionRetry]
	assert.Equal(t, 2, e.Attempts)
	assert.Equal(t, 1, e.Successes)
	assert.Equal(t, 1, e.Failures)
	assert.Equal(t, 0.5, e.SuccessRate)
}

func TestBestActionForSignal(t *testing.T) {
	events := []eventlog.Event{
		{Signal: eventlog.SignalType{Kind: eventlog.SignalOutputStall}, Action: eventlog.InterventionAction{Kind: eventlog.ActionRetry}, Outcome: eventlog.OutcomeResolved},
		{Signal: eventlog.SignalType{Kind: eventlog.SignalOutputStall}, Action: eventlog.InterventionAction{Kind: eventlog.ActionRestart}, Outcome: eventlog.OutcomeStillBroken},
	}
	eff := ComputeEffectiveness(events)
	best, ok := BestActionForSignal(eff, eventlog.SignalOutputStall, 1)
	require.True(t, ok)
	assert.Equal(t, eventlog.ActionRetry, best.Action)
}

// TestComputeThresholds mirrors the original Rust suite's
// high_reliability_shortens_timeout case.
func TestComputeThresholds(t *testing.T) {
	base := map[string]int64{eventlog.SignalHeartbeatStale: 60_000}
	rel := map[string]SignalReliability{
		eventlog.SignalHeartbeatStale: {Signal: eventlog.SignalHeartbeatStale, ReliabilityScore: 0.9},
	}
	thresholds := ComputeThresholds(base, rel)
	th := thresholds[eventlog.SignalHeartbeatStale]
	assert.Equal(t, int64(30_000), th.AdjustedTimeoutMs)
	assert.Contains(t, th.AdjustmentReason, "high reliability")
}

func TestComputeThresholdsDefaultsToModerate(t *testing.T) {
	base := map[string]int64{eventlog.SignalErrorPattern: 10_000}
	thresholds := ComputeThresholds(base, nil)
	th := thresholds[eventlog.SignalErrorPattern]
	assert.Equal(t, int64(10_000), th.AdjustedTimeoutMs)
	assert.Equal(t, 0.5, th.ReliabilityScore)
}
