package service

import "github.com/prometheus/client_golang/prometheus"

const (
	SpanApplied   = "applied"
	SpanDuplicate = "duplicate"
	SpanClamped   = "clamped"
	SpanSaturated = "saturated"
)

type Metrics struct {
	spans    *prometheus.CounterVec
	sessions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		spans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwell",
			Subsystem: "ledger",
			Name:      "spans_total",
			Help:      "Spans received in aggregate upserts, by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwell",
			Subsystem: "ledger",
			Name:      "session_writes_total",
			Help:      "Session creates and updates, by result.",
		}, []string{"op", "result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.spans, m.sessions} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}
