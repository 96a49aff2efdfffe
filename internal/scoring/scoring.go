// Package scoring turns a worker's aggregate stats into a performance score
// and a per-distribution capacity.
//
// The formula is versioned. Stored scores carry the version that produced
// them; bump FormulaVersion whenever weights or component curves change.
package scoring

import (
	"math"
	"time"

	"examline/internal/domain"
)

// FormulaVersion identifies the current score formula.
const FormulaVersion = 1

const (
	weightCompletion  = 0.4
	weightSpeed       = 0.3
	weightReliability = 0.2
	weightRecency     = 0.1

	idealHoursPerItem   = 2.0
	speedPenaltyPerHour = 2.0
	reassignPenalty     = 5.0
	recencyWindow       = 24 * time.Hour
	recencyDecayPerDay  = 10.0
	neverActiveRecency  = 50.0
	warningPenalty      = 10.0
	baseCapacity        = 10.0
	neutralScore        = 50.0
	workloadHorizon     = 20.0
	minLoadFactor       = 0.5
	capacityEpsilon     = 1e-9
)

// Components is the per-component breakdown of a score, each in [0,100]
// before weighting.
type Components struct {
	Completion  float64 `json:"completion"`
	Speed       float64 `json:"speed"`
	Reliability float64 `json:"reliability"`
	Recency     float64 `json:"recency"`
	Penalty     float64 `json:"penalty"`
	Total       float64 `json:"total"`
}

// Score returns the performance score for stats evaluated at now.
func Score(s domain.WorkerStats, now time.Time) float64 {
	return Breakdown(s, now).Total
}

// Breakdown computes each weighted component and the clamped total.
func Breakdown(s domain.WorkerStats, now time.Time) Components {
	c := Components{
		Completion:  completion(s.TotalAssigned, s.TotalCompleted),
		Speed:       speed(s.AverageCompletionHours),
		Reliability: clamp(100 - reassignPenalty*float64(s.TotalReassignedAway)),
		Recency:     recency(s.LastActiveAt, now),
		Penalty:     warningPenalty * float64(s.WarningCount),
	}
	total := weightCompletion*c.Completion +
		weightSpeed*c.Speed +
		weightReliability*c.Reliability +
		weightRecency*c.Recency -
		c.Penalty
	c.Total = clamp(total)
	return c
}

func completion(assigned, completed int) float64 {
	if assigned <= 0 {
		return 100
	}
	return clamp(float64(completed) / float64(assigned) * 100)
}

func speed(avg *float64) float64 {
	if avg == nil {
		return 100
	}
	return clamp(100 - speedPenaltyPerHour*math.Max(0, *avg-idealHoursPerItem))
}

func recency(lastActive *string, now time.Time) float64 {
	t, ok := domain.ParseTimePtr(lastActive)
	if !ok {
		return neverActiveRecency
	}
	since := now.Sub(t)
	if since <= recencyWindow {
		return 100
	}
	periods := math.Floor(since.Hours() / recencyWindow.Hours())
	return clamp(100 - recencyDecayPerDay*periods)
}

// Capacity is the number of items a worker may receive in one distribution
// pass: 10 scaled by score/50, shrunk by current workload down to half, and
// never below one.
func Capacity(score float64, workload int) int {
	load := math.Max(minLoadFactor, 1-float64(workload)/workloadHorizon)
	raw := baseCapacity * clamp(score) * load / neutralScore
	c := int(math.Ceil(raw - capacityEpsilon))
	if c < 1 {
		return 1
	}
	return c
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
