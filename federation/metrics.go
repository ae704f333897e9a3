package federation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of the outbound queue and the inbox.
type Metrics struct {
	Lag        *prometheus.GaugeVec
	FailCount  *prometheus.GaugeVec
	Cursor     *prometheus.GaugeVec
	Workers    prometheus.Gauge
	Deliveries *prometheus.CounterVec
	Received   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Lag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lemmings_federation_lag",
				Help: "Sent activities not yet delivered to an instance.",
			},
			[]string{"instance"},
		),
		FailCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lemmings_federation_fail_count",
				Help: "Consecutive failed delivery attempts per instance.",
			},
			[]string{"instance"},
		),
		Cursor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lemmings_federation_last_successful_id",
				Help: "Id of the last sent activity handled for an instance.",
			},
			[]string{"instance"},
		),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lemmings_federation_workers",
			Help: "Running outbound queue workers.",
		}),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lemmings_federation_deliveries_total",
				Help: "Delivery attempts by outcome (success, rejected, failed).",
			},
			[]string{"instance", "outcome"},
		),
		Received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lemmings_inbox_activities_total",
				Help: "Inbox requests by response status.",
			},
			[]string{"status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Lag, m.FailCount, m.Cursor, m.Workers, m.Deliveries, m.Received)
	}
	return m
}

func (m *Metrics) observe(s Stats) {
	m.Lag.WithLabelValues(s.Instance).Set(float64(s.Lag))
	m.FailCount.WithLabelValues(s.Instance).Set(float64(s.FailCount))
	m.Cursor.WithLabelValues(s.Instance).Set(float64(s.LastSuccessfulId))
}

func (m *Metrics) forget(instance string) {
	m.Lag.DeleteLabelValues(instance)
	m.FailCount.DeleteLabelValues(instance)
	m.Cursor.DeleteLabelValues(instance)
}
