// Package timeline maps between a step-local playback position and normalized
// progress across a flow's whole timeline. All functions are pure.
package timeline

import "github.com/rendis/authflow/pkg/schema"

// Position is a point on the timeline expressed as a step index plus the time
// already spent inside that step.
type Position struct {
	Index     int     `json:"index"`
	ElapsedMs float64 `json:"elapsed_ms"`
}

// EventTotals returns durationMs + pauseAfterMs for every step, in order.
func EventTotals(def *schema.FlowDefinition) []float64 {
	if def == nil {
		return nil
	}
	totals := make([]float64, len(def.Steps))
	for i, s := range def.Steps {
		totals[i] = s.Total()
	}
	return totals
}

// TimelineTotal sums all step totals.
func TimelineTotal(totals []float64) float64 {
	var sum float64
	for _, t := range totals {
		sum += t
	}
	return sum
}

// ToGlobalProgress returns the normalized position of (index, elapsedMs),
// clamped to [0,1]. A zero-length timeline always yields 0.
func ToGlobalProgress(index int, elapsedMs float64, totals []float64) float64 {
	total := TimelineTotal(totals)
	if total <= 0 {
		return 0
	}
	var before float64
	for i := 0; i < index && i < len(totals); i++ {
		before += totals[i]
	}
	return clamp01((before + elapsedMs) / total)
}

// FromGlobalProgress is the inverse of ToGlobalProgress. A value landing
// exactly on a step boundary resolves to the start of the next step; the last
// step absorbs any remainder so the result never points past the final step.
func FromGlobalProgress(normalized float64, totals []float64) Position {
	if len(totals) == 0 {
		return Position{}
	}
	total := TimelineTotal(totals)
	if total <= 0 {
		return Position{}
	}

	remaining := clamp01(normalized) * total
	last := len(totals) - 1
	for i := 0; i < last; i++ {
		if remaining < totals[i] {
			return Position{Index: i, ElapsedMs: remaining}
		}
		remaining -= totals[i]
	}

	if remaining > totals[last] {
		remaining = totals[last]
	}
	return Position{Index: last, ElapsedMs: remaining}
}

// EventProgress is the normalized progress inside a step's own duration,
// saturating at 1 once the step's animation is complete.
func EventProgress(elapsedMs, durationMs float64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return clamp01(elapsedMs / durationMs)
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
