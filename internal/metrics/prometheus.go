package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Collector backed by client_golang. Collectors are
// registered lazily on first use.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	distributed        prometheus.Counter
	distributionFailed *prometheus.CounterVec
	reallocated        *prometheus.CounterVec
	sweepItems         *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
	statsRefreshed     *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registering into reg (the default
// registerer when nil) under namespace ("examline" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "examline"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.distributed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "distribution",
			Name:      "items_total",
			Help:      "Items assigned by distribution runs.",
		})
		p.distributionFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "distribution",
			Name:      "failures_total",
			Help:      "Distribution runs aborted, by reason.",
		}, []string{"reason"})
		p.reallocated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reallocation",
			Name:      "applied_total",
			Help:      "Reallocations applied, by reason (distribution,manual,automatic).",
		}, []string{"reason"})
		p.sweepItems = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "sweep",
			Name:      "items_total",
			Help:      "Items handled by idle sweeps, by outcome (warned,reallocated,failed).",
		}, []string{"outcome"})
		p.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of idle sweeps in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		})
		p.statsRefreshed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "stats",
			Name:      "refreshes_total",
			Help:      "Worker stats refreshes, by result (success,failure).",
		}, []string{"result"})
		p.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notification outcomes (sent,failed,dropped).",
		}, []string{"result"})

		p.reg.MustRegister(p.distributed)
		p.reg.MustRegister(p.distributionFailed)
		p.reg.MustRegister(p.reallocated)
		p.reg.MustRegister(p.sweepItems)
		p.reg.MustRegister(p.sweepDuration)
		p.reg.MustRegister(p.statsRefreshed)
		p.reg.MustRegister(p.notifications)
	})
}

func (p *Prometheus) ItemsDistributed(n int) {
	p.ensureRegistered()
	p.distributed.Add(float64(n))
}

func (p *Prometheus) DistributionFailed(reason string) {
	p.ensureRegistered()
	p.distributionFailed.WithLabelValues(reason).Inc()
}

func (p *Prometheus) Reallocated(reason string) {
	p.ensureRegistered()
	p.reallocated.WithLabelValues(reason).Inc()
}

func (p *Prometheus) SweepCompleted(warned, reallocated, failed int, seconds float64) {
	p.ensureRegistered()
	p.sweepItems.WithLabelValues("warned").Add(float64(warned))
	p.sweepItems.WithLabelValues("reallocated").Add(float64(reallocated))
	p.sweepItems.WithLabelValues("failed").Add(float64(failed))
	p.sweepDuration.Observe(seconds)
}

func (p *Prometheus) StatsRefreshed(result string) {
	p.ensureRegistered()
	p.statsRefreshed.WithLabelValues(result).Inc()
}

func (p *Prometheus) Notification(result string) {
	p.ensureRegistered()
	p.notifications.WithLabelValues(result).Inc()
}
