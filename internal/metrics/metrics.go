package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Transitions   *prometheus.CounterVec
	SlotConflicts prometheus.Counter
	Capacity      prometheus.Counter
	Verdicts      prometheus.Counter
	Payments      *prometheus.CounterVec
	Disbursed     prometheus.Counter
	RoundingLoss  prometheus.Counter
	Notifications *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "case",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by target status.",
		}, []string{"status"}),
		SlotConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "slot",
			Name:      "conflicts_total",
			Help:      "Reservations that lost the slot to another case.",
		}),
		Capacity: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "panel",
			Name:      "capacity_rejections_total",
			Help:      "Application approvals rejected because the panel was full.",
		}),
		Verdicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "panel",
			Name:      "verdicts_total",
			Help:      "Verdicts accepted.",
		}),
		Payments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "disbursement",
			Name:      "payments_total",
			Help:      "Payment attempts by outcome.",
		}, []string{"status"}),
		Disbursed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "disbursement",
			Name:      "moved_cents_total",
			Help:      "Minor currency units successfully paid out.",
		}),
		RoundingLoss: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "disbursement",
			Name:      "rounding_loss_cents_total",
			Help:      "Minor currency units retained by the truncating split.",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docket",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) SlotConflict() {
	if m == nil {
		return
	}
	m.SlotConflicts.Inc()
}

func (m *Metrics) CapacityRejected() {
	if m == nil {
		return
	}
	m.Capacity.Inc()
}

func (m *Metrics) VerdictAccepted() {
	if m == nil {
		return
	}
	m.Verdicts.Inc()
}

// Payment records one attempt outcome; cents counts toward the moved total
// only for successes.
func (m *Metrics) Payment(status string, cents int64) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(status).Inc()
	if status == "succeeded" && cents > 0 {
		m.Disbursed.Add(float64(cents))
	}
}

func (m *Metrics) Rounding(cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	m.RoundingLoss.Add(float64(cents))
}

func (m *Metrics) Notification(ok bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !ok {
		outcome = "failed"
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
