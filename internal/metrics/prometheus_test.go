package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.ItemsDistributed(4)
	p.ItemsDistributed(2)
	p.Reallocated("automatic")
	p.Reallocated("manual")
	p.Reallocated("automatic")
	p.SweepCompleted(1, 2, 3, 0.01)
	p.Notification("dropped")

	require.Equal(t, 6.0, testutil.ToFloat64(p.distributed))
	require.Equal(t, 2.0, testutil.ToFloat64(p.reallocated.WithLabelValues("automatic")))
	require.Equal(t, 3.0, testutil.ToFloat64(p.sweepItems.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.notifications.WithLabelValues("dropped")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["test_sweep_duration_seconds"])
	require.True(t, names["test_distribution_items_total"])
}

func TestNopSatisfiesCollector(t *testing.T) {
	var c Collector = NewNop()
	require.NotPanics(t, func() {
		c.ItemsDistributed(1)
		c.SweepCompleted(0, 0, 0, 0)
		c.Notification("sent")
	})
}
