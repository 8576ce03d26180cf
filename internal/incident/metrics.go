package incident

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/beacon/internal/alert"
)

// Metrics holds Prometheus metrics for the incident subsystem. Components
// report events here; nothing reads aggregated state back.
type Metrics struct {
	AlertsReceived    *prometheus.CounterVec
	Correlated        *prometheus.CounterVec
	IncidentsTotal    *prometheus.CounterVec
	MTTA              *prometheus.HistogramVec
	MTTR              *prometheus.HistogramVec
	OpenIncidents     *prometheus.GaugeVec
	NotificationsSent *prometheus.CounterVec
	Escalations       *prometheus.CounterVec
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_received_total",
			Help: "Total number of alerts received.",
		}, []string{"severity", "service"}),
		Correlated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_correlated_total",
			Help: "Total number of alerts correlated to incidents, by outcome.",
		}, []string{"result"}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incidents_total",
			Help: "Total number of incident status entries by status and severity.",
		}, []string{"status", "severity"}),
		MTTA: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "incident_mtta_seconds",
			Help:    "Time to acknowledge incidents in seconds.",
			Buckets: []float64{30, 60, 120, 300, 600, 1800, 3600}, // 30s .. 1h
		}, []string{"severity"}),
		MTTR: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "incident_mttr_seconds",
			Help:    "Time to resolve incidents in seconds.",
			Buckets: []float64{300, 600, 1800, 3600, 7200, 14400, 28800}, // 5m .. 8h
		}, []string{"severity"}),
		OpenIncidents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "open_incidents",
			Help: "Current number of unresolved incidents.",
		}, []string{"severity"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_notifications_sent_total",
			Help: "Total notifications sent by channel and delivery status.",
		}, []string{"channel", "status"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Total escalations by target team and reason.",
		}, []string{"team", "reason"}),
	}

	reg.MustRegister(
		m.AlertsReceived,
		m.Correlated,
		m.IncidentsTotal,
		m.MTTA,
		m.MTTR,
		m.OpenIncidents,
		m.NotificationsSent,
		m.Escalations,
	)

	// Pre-initialize the gauge so every severity series exists at 0.
	for _, sev := range alert.Severities() {
		m.OpenIncidents.WithLabelValues(string(sev)).Set(0)
	}

	return m
}
