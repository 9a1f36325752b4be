package service

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	OutcomeSynced     = "synced"
	OutcomeFailed     = "failed"
	OutcomeDropped    = "dropped"
	OutcomeDeferred   = "deferred"
	OutcomeSuppressed = "suppressed"
	OutcomeConflict   = "conflict"
)

type Metrics struct {
	intervals  *prometheus.CounterVec
	sessions   *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	duration   prometheus.Histogram
	backingOff prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		intervals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwell",
			Subsystem: "sync",
			Name:      "intervals_total",
			Help:      "Intervals handled by the dispatcher, by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwell",
			Subsystem: "sync",
			Name:      "sessions_total",
			Help:      "Session records handled by the dispatcher, by outcome.",
		}, []string{"outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwell",
			Subsystem: "sync",
			Name:      "dispatches_total",
			Help:      "Dispatch cycles, by trigger.",
		}, []string{"trigger"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dwell",
			Subsystem: "sync",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one dispatch cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		backingOff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dwell",
			Subsystem: "sync",
			Name:      "backing_off",
			Help:      "Interval groups and sessions currently waiting out a backoff.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.intervals, m.sessions, m.dispatches, m.duration, m.backingOff} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) addIntervals(outcome string, n int) {
	if n > 0 {
		m.intervals.WithLabelValues(outcome).Add(float64(n))
	}
}

func (m *Metrics) addSessions(outcome string, n int) {
	if n > 0 {
		m.sessions.WithLabelValues(outcome).Add(float64(n))
	}
}
