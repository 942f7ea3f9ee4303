package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report loop activity.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	batchItems    *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once so
// several orchestrators can share them.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests pass a fresh registry. Registration errors other than an identical
// collector already being present panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "claimflow",
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Duration spent executing each stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimflow",
			Subsystem: "orchestrator",
			Name:      "stage_failures_total",
			Help:      "Total number of stage executions that returned an error.",
		},
		[]string{"stage", "reason"},
	)
	runsFinished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimflow",
			Subsystem: "orchestrator",
			Name:      "runs_finished_total",
			Help:      "Finished claim runs by termination reason.",
		},
		[]string{"reason"},
	)
	batchItems := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "claimflow",
			Subsystem: "batch",
			Name:      "item_duration_seconds",
			Help:      "Duration of individual batch items by operation.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	collectors := []prometheus.Collector{stageDuration, stageFailures, runsFinished, batchItems}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				// Reuse the existing collector when it matches the expected type.
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					switch target { //nolint:exhaustive
					case stageDuration:
						stageDuration = already.ExistingCollector.(*prometheus.HistogramVec)
					case batchItems:
						batchItems = already.ExistingCollector.(*prometheus.HistogramVec)
					}
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case stageFailures:
						stageFailures = already.ExistingCollector.(*prometheus.CounterVec)
					case runsFinished:
						runsFinished = already.ExistingCollector.(*prometheus.CounterVec)
					}
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		stageDuration: stageDuration,
		stageFailures: stageFailures,
		runsFinished:  runsFinished,
		batchItems:    batchItems,
	}
}

// ObserveStageDuration records the time spent in a stage with the provided status label.
func (m *Metrics) ObserveStageDuration(stage string, status string, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// IncStageFailure increments the failure counter for the given stage and reason.
func (m *Metrics) IncStageFailure(stage string, reason string) {
	if m == nil || m.stageFailures == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// IncRunFinished counts a finished run.
func (m *Metrics) IncRunFinished(reason string) {
	if m == nil || m.runsFinished == nil {
		return
	}
	m.runsFinished.WithLabelValues(reason).Inc()
}

// ObserveItem implements batch.Observer.
func (m *Metrics) ObserveItem(operation string, duration time.Duration, err error) {
	if m == nil || m.batchItems == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.batchItems.WithLabelValues(operation, status).Observe(duration.Seconds())
}
