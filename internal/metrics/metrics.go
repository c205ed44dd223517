package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles where every batch succeeded.
	OutcomeSuccess = "success"
	// OutcomePartial labels cycles where at least one batch failed.
	OutcomePartial = "partial"
	// OutcomeSkipped labels cycles that had nothing to fetch.
	OutcomeSkipped = "skipped"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_flows",
			Name:      "status_cycles_total",
			Help:      "Status fetch cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_flows",
			Name:      "status_cycle_seconds",
			Help:      "Status fetch cycle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
	)

	batchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_flows",
			Name:      "batch_failures_total",
			Help:      "Failed telemetry batches by kind (search, entity, conditions, issues, incidents).",
		},
		[]string{"kind"},
	)

	classifiedSignals = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mirador_flows",
			Name:      "classified_signals",
			Help:      "Signals in the latest classification by category and type.",
		},
		[]string{"category", "type"},
	)

	playbackBandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_flows",
			Name:      "playback_bands_total",
			Help:      "Playback band events (loaded, cached, seek_hit, seek_miss).",
		},
		[]string{"event"},
	)
)

// Register attaches collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		batchFailuresTotal,
		classifiedSignals,
		playbackBandsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomePartial, OutcomeSkipped:
	default:
		outcome = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveBatchFailure counts one failed telemetry batch.
func ObserveBatchFailure(kind string) {
	batchFailuresTotal.WithLabelValues(kind).Inc()
}

// SetClassified publishes the size of one classification category.
func SetClassified(category, signalType string, count int) {
	classifiedSignals.WithLabelValues(category, signalType).Set(float64(count))
}

// ObservePlayback counts a playback band event.
func ObservePlayback(event string) {
	playbackBandsTotal.WithLabelValues(event).Inc()
}
