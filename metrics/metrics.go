package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoop    = "noop"
)

var (
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongoinit_steps_total",
			Help: "Total number of bootstrap steps executed",
		},
		[]string{"step", "outcome"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongoinit_step_duration_seconds",
			Help:    "Time taken by each bootstrap step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	UserActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongoinit_user_actions_total",
			Help: "Application user actions by kind (created, updated, unchanged)",
		},
		[]string{"action"},
	)

	ConnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mongoinit_connect_attempts_total",
			Help: "Total number of admin connection attempts, retries included",
		},
	)

	LastRunSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mongoinit_last_run_success",
			Help: "1 if the last bootstrap run succeeded, 0 otherwise",
		},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mongoinit_last_run_timestamp_seconds",
			Help: "Unix time the last bootstrap run finished",
		},
	)
)

// ObserveStep records the outcome and duration of one step
func ObserveStep(step, outcome string, elapsed time.Duration) {
	StepsTotal.WithLabelValues(step, outcome).Inc()
	StepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

// RecordRun sets the last-run gauges
func RecordRun(success bool, finished time.Time) {
	if success {
		LastRunSuccess.Set(1)
	} else {
		LastRunSuccess.Set(0)
	}
	LastRunTimestamp.Set(float64(finished.Unix()))
}

// WriteTextfile writes every registered metric to path in the text exposition format
// read by node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
