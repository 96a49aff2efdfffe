package scoring

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"examline/internal/domain"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestBreakdownNewWorker(t *testing.T) {
	c := Breakdown(domain.WorkerStats{}, now)
	require.Equal(t, 100.0, c.Completion)
	require.Equal(t, 100.0, c.Speed)
	require.Equal(t, 100.0, c.Reliability)
	require.Equal(t, 50.0, c.Recency)
	require.InDelta(t, 95.0, c.Total, 1e-9)
}

func TestReliabilityAfterReassignments(t *testing.T) {
	c := Breakdown(domain.WorkerStats{TotalReassignedAway: 3}, now)
	require.Equal(t, 85.0, c.Reliability)

	c = Breakdown(domain.WorkerStats{TotalReassignedAway: 40}, now)
	require.Equal(t, 0.0, c.Reliability)
}

func TestSpeed(t *testing.T) {
	cases := []struct {
		avg  float64
		want float64
	}{
		{0.5, 100},
		{2, 100},
		{7, 90},
		{52, 0},
		{300, 0},
	}
	for _, tc := range cases {
		c := Breakdown(domain.WorkerStats{AverageCompletionHours: ptr(tc.avg)}, now)
		require.Equal(t, tc.want, c.Speed, "avg=%v", tc.avg)
	}
}

func TestRecency(t *testing.T) {
	at := func(d time.Duration) *string { return ptr(domain.FormatTime(now.Add(-d))) }
	cases := []struct {
		name string
		last *string
		want float64
	}{
		{"never", nil, 50},
		{"just now", at(0), 100},
		{"exactly a day", at(24 * time.Hour), 100},
		{"a day and a minute", at(24*time.Hour + time.Minute), 90},
		{"three days", at(72 * time.Hour), 70},
		{"a month", at(30 * 24 * time.Hour), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Breakdown(domain.WorkerStats{LastActiveAt: tc.last}, now).Recency)
		})
	}
}

func TestWarningsLowerTotalAndClamp(t *testing.T) {
	base := domain.WorkerStats{TotalAssigned: 10, TotalCompleted: 10, LastActiveAt: ptr(domain.FormatTime(now))}
	require.InDelta(t, 100.0, Score(base, now), 1e-9)

	base.WarningCount = 2
	require.InDelta(t, 80.0, Score(base, now), 1e-9)

	base.WarningCount = 50
	require.Equal(t, 0.0, Score(base, now))
}

func TestScoreBoundedAndPure(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		assigned := rng.Intn(50)
		s := domain.WorkerStats{
			TotalAssigned:       assigned,
			TotalCompleted:      rng.Intn(assigned + 1),
			TotalReassignedAway: rng.Intn(30),
			WarningCount:        rng.Intn(5),
		}
		if rng.Intn(2) == 0 {
			s.AverageCompletionHours = ptr(rng.Float64() * 200)
		}
		if rng.Intn(3) > 0 {
			s.LastActiveAt = ptr(domain.FormatTime(now.Add(-time.Duration(rng.Intn(500)) * time.Hour)))
		}
		got := Score(s, now)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 100.0)
		require.Equal(t, got, Score(s, now))
	}
}

func TestCapacity(t *testing.T) {
	require.Equal(t, 18, Capacity(90, 0))
	require.Equal(t, 6, Capacity(40, 5))
	require.Equal(t, 20, Capacity(100, 0))
	require.Equal(t, 10, Capacity(100, 10))
	require.Equal(t, 10, Capacity(100, 40))
	require.Equal(t, 1, Capacity(0, 0))
	require.Equal(t, 1, Capacity(1, 0))
	require.Equal(t, 10, Capacity(50, 0))
}
