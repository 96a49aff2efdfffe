package planner

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func items(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%02d", i)
	}
	return ids
}

func countByWorker(p Plan) map[string]int {
	out := map[string]int{}
	for _, a := range p.Assignments {
		out[a.WorkerID]++
	}
	return out
}

func TestBuildHighScorerAbsorbsBatch(t *testing.T) {
	plan, err := Build(items(10), []Candidate{
		{WorkerID: "B", Score: 40, Workload: 5},
		{WorkerID: "A", Score: 90, Workload: 0},
	}, 0)
	require.NoError(t, err)

	require.Equal(t, "A", plan.Slots[0].WorkerID)
	require.Equal(t, 18, plan.Slots[0].Capacity)
	require.Equal(t, 6, plan.Slots[1].Capacity)
	require.Equal(t, map[string]int{"A": 10}, countByWorker(plan))
	require.Zero(t, plan.Overflows)
	require.Equal(t, 0, plan.Cursor)
}

func TestBuildSpillsToNextWorker(t *testing.T) {
	plan, err := Build(items(24), []Candidate{
		{WorkerID: "A", Score: 90},
		{WorkerID: "B", Score: 40, Workload: 5},
	}, 0)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"A": 18, "B": 6}, countByWorker(plan))
	require.Zero(t, plan.Overflows)
	for i, a := range plan.Assignments {
		if i < 18 {
			require.Equal(t, "A", a.WorkerID)
		} else {
			require.Equal(t, "B", a.WorkerID)
		}
	}
}

func TestBuildOverflowRoundRobin(t *testing.T) {
	// capacities: A=1, B=1
	plan, err := Build(items(6), []Candidate{
		{WorkerID: "A", Score: 5},
		{WorkerID: "B", Score: 4},
	}, 0)
	require.NoError(t, err)

	got := make([]string, 0, len(plan.Assignments))
	for _, a := range plan.Assignments {
		got = append(got, a.WorkerID)
	}
	require.Equal(t, []string{"A", "B", "A", "B", "A", "B"}, got)
	require.Equal(t, 4, plan.Overflows)
	require.False(t, plan.Assignments[1].Overflow)
	require.True(t, plan.Assignments[2].Overflow)
}

func TestBuildCursorIsExplicit(t *testing.T) {
	cands := []Candidate{{WorkerID: "A", Score: 50}, {WorkerID: "B", Score: 50}}
	first, err := Build(items(3), cands, 1)
	require.NoError(t, err)
	require.Equal(t, "B", first.Assignments[0].WorkerID)

	again, err := Build(items(3), cands, 1)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestBuildNoCandidates(t *testing.T) {
	_, err := Build(items(3), nil, 0)
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestBuildEmptyItems(t *testing.T) {
	plan, err := Build(nil, []Candidate{{WorkerID: "A", Score: 10}}, 0)
	require.NoError(t, err)
	require.Empty(t, plan.Assignments)
	require.Len(t, plan.Slots, 1)
}

func TestBuildPlacesEveryItemOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 300; run++ {
		n := 1 + rng.Intn(6)
		cands := make([]Candidate, n)
		for i := range cands {
			cands[i] = Candidate{
				WorkerID: fmt.Sprintf("w%d", i),
				Score:    float64(rng.Intn(101)),
				Workload: rng.Intn(30),
			}
		}
		ids := items(1 + rng.Intn(80))
		plan, err := Build(ids, cands, rng.Intn(10))
		require.NoError(t, err)
		require.Len(t, plan.Assignments, len(ids))

		seen := map[string]bool{}
		allocated := 0
		for _, a := range plan.Assignments {
			require.False(t, seen[a.ItemID], "item %s placed twice", a.ItemID)
			seen[a.ItemID] = true
		}
		for _, s := range plan.Slots {
			allocated += s.Allocated
		}
		require.Equal(t, len(ids), allocated)
		if plan.Overflows == 0 {
			for _, s := range plan.Slots {
				require.LessOrEqual(t, s.Allocated, s.Capacity)
			}
		}
	}
}

func TestFingerprintIgnoresOrder(t *testing.T) {
	a := []Assignment{{ItemID: "1", WorkerID: "A"}, {ItemID: "2", WorkerID: "B"}}
	b := []Assignment{{ItemID: "2", WorkerID: "B"}, {ItemID: "1", WorkerID: "A"}}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
	require.Len(t, Fingerprint(a), 16)
	require.NotEqual(t, Fingerprint(a), Fingerprint(a[:1]))
}

func TestReplacement(t *testing.T) {
	cands := []Candidate{
		{WorkerID: "old", Score: 99},
		{WorkerID: "busy", Score: 80, Workload: 7},
		{WorkerID: "free", Score: 80, Workload: 2},
		{WorkerID: "weak", Score: 20},
	}
	got, ok := Replacement(cands, "old")
	require.True(t, ok)
	require.Equal(t, "free", got.WorkerID)

	_, ok = Replacement([]Candidate{{WorkerID: "old"}}, "old")
	require.False(t, ok)
}
