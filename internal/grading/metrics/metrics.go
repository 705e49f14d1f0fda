// Package metrics exposes grading counters and histograms to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "grader"

// Modes label a grading run.
const (
	ModeSubmit = "submit"
	ModeSample = "sample"
)

// Metrics holds the grader collectors.
type Metrics struct {
	verdicts            *prometheus.CounterVec
	pollAttempts        *prometheus.HistogramVec
	pollDuration        *prometheus.HistogramVec
	abuseFlags          *prometheus.CounterVec
	shadowBans          prometheus.Counter
	persistenceFailures prometheus.Counter
	archiveFailures     prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Final verdicts by grading mode.",
		}, []string{"mode", "verdict"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_poll_attempts",
			Help:      "Status fetches needed per poll.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 20, 30},
		}, []string{"profile", "complete"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_poll_duration_seconds",
			Help:      "Wall time spent polling the judge.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"profile"}),
		abuseFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abuse_flags_total",
			Help:      "Suspicious accepted submissions by reason.",
		}, []string{"reason"}),
		shadowBans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shadow_bans_total",
			Help:      "Users escalated to a shadow ban.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Graded submissions that could not be stored.",
		}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Sources that could not be archived.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.verdicts,
			m.pollAttempts,
			m.pollDuration,
			m.abuseFlags,
			m.shadowBans,
			m.persistenceFailures,
			m.archiveFailures,
		)
	}
	return m
}

// ObserveVerdict counts one final verdict.
func (m *Metrics) ObserveVerdict(mode, verdict string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(mode, verdict).Inc()
}

// ObservePoll records one finished poll loop.
func (m *Metrics) ObservePoll(profile string, attempts int, complete bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(profile, strconv.FormatBool(complete)).Observe(float64(attempts))
	m.pollDuration.WithLabelValues(profile).Observe(elapsed.Seconds())
}

// ObserveAbuse counts the reasons of one suspicious submission and a new ban, if any.
func (m *Metrics) ObserveAbuse(reasons []string, newlyBanned bool) {
	if m == nil {
		return
	}
	for _, reason := range reasons {
		m.abuseFlags.WithLabelValues(reason).Inc()
	}
	if newlyBanned {
		m.shadowBans.Inc()
	}
}

func (m *Metrics) IncPersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) IncArchiveFailure() {
	if m == nil {
		return
	}
	m.archiveFailures.Inc()
}
