// Package diagnosis computes signal reliability, action effectiveness, and
// adaptive timeout thresholds over the intervention event log (spec.md
// §4.M). Ported from original_source/core/src/diagnosis/{reliability,
// thresholds}.rs.
package diagnosis

import (
	"sort"

	"github.com/ianremillard/cmx/internal/eventlog"
)

// SignalReliability summarizes how often a signal's firing turned out to be
// a real problem.
type SignalReliability struct {
	Signal          string
	TotalFires      int
	TruePositives   int
	FalsePositives  int
	Unknown         int
	ReliabilityScore float64
	AvgResolutionMs  int64
}

// ActionEffectiveness summarizes how often an action resolved the signal it
// was applied to.
type ActionEffectiveness struct {
	Signal      string
	Action      string
	Attempts    int
	Successes   int
	Failures    int
	SuccessRate float64
}

func signalKey(s eventlog.SignalType) string {
	if s.Kind == eventlog.SignalTriggerFired {
		return s.Kind + ":" + s.TriggerName
	}
	return s.Kind
}

func actionKey(a eventlog.InterventionAction) string {
	if a.Kind == eventlog.ActionManual {
		return a.Kind + ":" + a.Description
	}
	return a.Kind
}

// ComputeReliability aggregates per-signal reliability statistics over
// events, skipping any with outcome Pending.
func ComputeReliability(events []eventlog.Event) map[string]SignalReliability {
	type accum struct {
		total, tp, fp, unk int
		resolvedSum        int64
		resolvedCount      int
	}
	acc := make(map[string]*accum)

	for _, e := range events {
		if e.Outcome == eventlog.OutcomePending {
			continue
		}
		key := signalKey(e.Signal)
		a, ok := acc[key]
		if !ok {
			a = &accum{}
			acc[key] = a
		}
		a.total++
		switch e.Outcome {
		case eventlog.OutcomeResolved, eventlog.OutcomeStillBroken:
			a.tp++
		case eventlog.OutcomeSelfResolved:
			a.fp++
		case eventlog.OutcomeTimeout, eventlog.OutcomeDifferentError:
			a.unk++
		}
		if e.Outcome == eventlog.OutcomeResolved {
			a.resolvedSum += e.DurationMs
			a.resolvedCount++
		}
	}

	out := make(map[string]SignalReliability, len(acc))
	for key, a := range acc {
		score := 0.5
		if a.tp+a.fp > 0 {
			score = float64(a.tp) / float64(a.tp+a.fp)
		}
		var avg int64
		if a.resolvedCount > 0 {
			avg = a.resolvedSum / int64(a.resolvedCount)
		}
		out[key] = SignalReliability{
			Signal:           key,
			TotalFires:       a.total,
			TruePositives:    a.tp,
			FalsePositives:   a.fp,
			Unknown:          a.unk,
			ReliabilityScore: score,
			AvgResolutionMs:  avg,
		}
	}
	return out
}

// ComputeEffectiveness aggregates per-(signal,action) effectiveness
// statistics over events, skipping any with outcome Pending.
func ComputeEffectiveness(events []eventlog.Event) map[string]ActionEffectiveness {
	type accum struct {
		attempts, successes, failures int
	}
	acc := make(map[string]*accum)
	meta := make(map[string][2]string)

	for _, e := range events {
		if e.Outcome == eventlog.OutcomePending {
			continue
		}
		sKey := signalKey(e.Signal)
		aKey := actionKey(e.Action)
		key := sKey + "\x00" + aKey
		a, ok := acc[key]
		if !ok {
			a = &accum{}
			acc[key] = a
			meta[key] = [2]string{sKey, aKey}
		}
		a.attempts++
		switch e.Outcome {
		case eventlog.OutcomeResolved:
			a.successes++
		case eventlog.OutcomeStillBroken, eventlog.OutcomeDifferentError:
			a.failures++
		}
	}

	out := make(map[string]ActionEffectiveness, len(acc))
	for key, a := range acc {
		m := meta[key]
		rate := 0.0
		if a.attempts > 0 {
			rate = float64(a.successes) / float64(a.attempts)
		}
		out[key] = ActionEffectiveness{
			Signal:      m[0],
			Action:      m[1],
			Attempts:    a.attempts,
			Successes:   a.successes,
			Failures:    a.failures,
			SuccessRate: rate,
		}
	}
	return out
}

// BestActionForSignal returns the highest success-rate action recorded for
// signal whose attempts meet minAttempts. Ties are broken on the action's
// canonical string form, making the result deterministic (spec.md §4.M says
// only "ties broken arbitrarily but stably").
func BestActionForSignal(eff map[string]ActionEffectiveness, signal string, minAttempts int) (ActionEffectiveness, bool) {
	var candidates []ActionEffectiveness
	for _, e := range eff {
		if e.Signal == signal && e.Attempts >= minAttempts {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return ActionEffectiveness{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].SuccessRate != candidates[j].SuccessRate {
			return candidates[i].SuccessRate > candidates[j].SuccessRate
		}
		return candidates[i].Action < candidates[j].Action
	})
	return candidates[0], true
}

// AdaptiveThreshold is a dynamically adjusted timeout for a specific signal.
type AdaptiveThreshold struct {
	Signal           string
	BaseTimeoutMs    int64
	AdjustedTimeoutMs int64
	ReliabilityScore float64
	AdjustmentReason string
}

// ComputeThresholds adjusts each base timeout by its signal's reliability
// score: >=0.8 -> x0.5, >=0.5 -> x1.0, >=0.2 -> x2.0, else x3.0. Signals with
// no reliability data default to a score of 0.5.
func ComputeThresholds(baseThresholds map[string]int64, reliability map[string]SignalReliability) map[string]AdaptiveThreshold {
	out := make(map[string]AdaptiveThreshold, len(baseThresholds))
	for signal, base := range baseThresholds {
		score := 0.5
		if r, ok := reliability[signal]; ok {
			score = r.ReliabilityScore
		}

		var multiplier float64
		var reason string
		switch {
		case score >= 0.8:
			multiplier, reason = 0.5, "high reliability — intervene quickly"
		case score >= 0.5:
			multiplier, reason = 1.0, "moderate reliability — use default"
		case score >= 0.2:
			multiplier, reason = 2.0, "low reliability — wait longer"
		default:
			multiplier, reason = 3.0, "very low reliability — wait much longer"
		}

		out[signal] = AdaptiveThreshold{
			Signal:            signal,
			BaseTimeoutMs:     base,
			AdjustedTimeoutMs: int64(float64(base) * multiplier),
			ReliabilityScore:  score,
			AdjustmentReason:  reason,
		}
	}
	return out
}
