// Package planner computes capacity-weighted assignment plans.
//
// Planning is pure: callers pass the scored worker pool, the items to place
// and the round-robin cursor, and receive a Plan. Nothing is persisted here;
// the engine applies a plan item by item.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"examline/internal/scoring"
)

// ErrNoCandidates is returned when the worker pool is empty.
var ErrNoCandidates = errors.New("no candidate workers")

// Candidate is an eligible worker as seen by the planner.
type Candidate struct {
	WorkerID string
	Score    float64
	Workload int
}

// Slot tracks one worker's capacity bookkeeping within a plan.
type Slot struct {
	WorkerID  string  `json:"worker_id"`
	Score     float64 `json:"score"`
	Workload  int     `json:"workload"`
	Capacity  int     `json:"capacity"`
	Allocated int     `json:"allocated"`
}

// Assignment pairs an item with its planned worker. Overflow is set when the
// item was placed after every capacity was exhausted.
type Assignment struct {
	ItemID   string `json:"item_id"`
	WorkerID string `json:"worker_id"`
	Overflow bool   `json:"overflow,omitempty"`
}

// Plan is the ordered output of Build. Cursor is the round-robin position
// after the last item; pass it to the next Build call to continue the
// rotation.
type Plan struct {
	Assignments []Assignment `json:"assignments"`
	Slots       []Slot       `json:"slots"`
	Cursor      int          `json:"cursor"`
	Overflows   int          `json:"overflows"`
	Fingerprint string       `json:"fingerprint"`
}

// Build assigns every item to exactly one candidate.
//
// The algorithm:
//  1. Compute each candidate's capacity from score and workload
//  2. Order candidates by score descending (worker id breaks ties)
//  3. For each item, probe slots circularly from the cursor and take the
//     first one with room; the cursor moves only past full slots
//  4. If every slot is full, advance the cursor and place the item there,
//     continuing a strict round-robin
//
// Parameters:
//   - itemIDs: Items to place, in placement order
//   - candidates: Eligible workers with fresh scores
//   - cursor: Starting round-robin position (0 for a fresh run)
//
// Returns:
//   - Plan: Assignments, per-worker slots and the advanced cursor
//   - error: ErrNoCandidates if the pool is empty
func Build(itemIDs []string, candidates []Candidate, cursor int) (Plan, error) {
	if len(candidates) == 0 {
		return Plan{}, ErrNoCandidates
	}
	if cursor < 0 {
		cursor = 0
	}

	slots := make([]Slot, len(candidates))
	for i, c := range candidates {
		slots[i] = Slot{
			WorkerID: c.WorkerID,
			Score:    c.Score,
			Workload: c.Workload,
			Capacity: scoring.Capacity(c.Score, c.Workload),
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Score != slots[j].Score {
			return slots[i].Score > slots[j].Score
		}
		return slots[i].WorkerID < slots[j].WorkerID
	})

	n := len(slots)
	plan := Plan{Assignments: make([]Assignment, 0, len(itemIDs))}
	for _, itemID := range itemIDs {
		placed := false
		for probe := 0; probe < n; probe++ {
			s := &slots[cursor%n]
			if s.Allocated < s.Capacity {
				s.Allocated++
				plan.Assignments = append(plan.Assignments, Assignment{ItemID: itemID, WorkerID: s.WorkerID})
				placed = true
				break
			}
			cursor++
		}
		cursor %= n
		if placed {
			continue
		}
		cursor++
		s := &slots[cursor%n]
		s.Allocated++
		plan.Assignments = append(plan.Assignments, Assignment{ItemID: itemID, WorkerID: s.WorkerID, Overflow: true})
		plan.Overflows++
	}

	plan.Slots = slots
	plan.Cursor = cursor % n
	plan.Fingerprint = Fingerprint(plan.Assignments)
	return plan, nil
}

// Fingerprint hashes the item-to-worker pairs of a plan independent of
// order, so two runs that place items identically share a fingerprint.
func Fingerprint(assignments []Assignment) string {
	pairs := make([]string, len(assignments))
	for i, a := range assignments {
		pairs[i] = a.ItemID + "=" + a.WorkerID
	}
	sort.Strings(pairs)
	return fmt.Sprintf("%016x", xxh3.HashString(strings.Join(pairs, "\n")))
}

// Replacement picks the best target for an item taken away from exclude:
// highest score, then lowest workload, then worker id. ok is false when no
// other candidate exists.
func Replacement(candidates []Candidate, exclude string) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if c.WorkerID == exclude {
			continue
		}
		if !found || better(c, best) {
			best = c
			found = true
		}
	}
	return best, found
}

func better(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Workload != b.Workload {
		return a.Workload < b.Workload
	}
	return a.WorkerID < b.WorkerID
}
