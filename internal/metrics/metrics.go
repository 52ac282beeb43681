package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	snapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_heal",
			Name:      "snapshots_total",
			Help:      "Total number of health snapshots built.",
		},
	)

	probeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_heal",
			Name:      "probe_failures_total",
			Help:      "Probe invocations that failed or timed out, by probe.",
		},
		[]string{"probe"},
	)

	issuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_heal",
			Name:      "issues_total",
			Help:      "Issues opened, partitioned by severity.",
		},
		[]string{"severity"},
	)

	openIssues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vigil_heal",
			Name:      "open_issues",
			Help:      "Issues currently open or recovering.",
		},
	)

	healthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vigil_heal",
			Name:      "health_score",
			Help:      "Current aggregate health score (0-100).",
		},
	)

	recoveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_heal",
			Name:      "recovery_attempts_total",
			Help:      "Recovery attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	recoverySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil_heal",
			Name:      "recovery_seconds",
			Help:      "Actuator execution latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

// Register attaches vigil-heal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		snapshotsTotal,
		probeFailuresTotal,
		issuesTotal,
		openIssues,
		healthScore,
		recoveryAttemptsTotal,
		recoverySeconds,
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

// ObserveSnapshot counts a completed snapshot build.
func ObserveSnapshot() {
	snapshotsTotal.Inc()
}

// ObserveProbeFailure counts a failed or timed-out probe invocation.
func ObserveProbeFailure(probe string) {
	probeFailuresTotal.WithLabelValues(probe).Inc()
}

// ObserveIssueOpened counts a newly created issue.
func ObserveIssueOpened(severity string) {
	issuesTotal.WithLabelValues(severity).Inc()
}

// SetOpenIssues updates the open-issue gauge.
func SetOpenIssues(n int) {
	openIssues.Set(float64(n))
}

// SetHealthScore updates the aggregate health gauge.
func SetHealthScore(score float64) {
	healthScore.Set(score)
}

// ObserveAttempt records one recovery attempt outcome and latency.
func ObserveAttempt(duration time.Duration, outcome string) {
	recoveryAttemptsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	recoverySeconds.Observe(duration.Seconds())
}
