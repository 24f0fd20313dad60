package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending core. Services hold a
// possibly-nil *Metrics and increment through the nil-safe helpers.
type Metrics struct {
	LoansCreated         prometheus.Counter
	LoansOverdue         prometheus.Counter
	ReturnsProcessed     prometheus.Counter
	SanctionsApplied     prometheus.Counter
	ReservationsCreated  prometheus.Counter
	NotificationsSent    *prometheus.CounterVec
	UsersRegistered      prometheus.Counter
	UsersActivated       prometheus.Counter
	CopyStateTransitions *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		LoansCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biblio_loans_created_total",
			Help: "Total number of loans registered.",
		}),
		LoansOverdue: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biblio_loans_overdue_total",
			Help: "Total number of loans transitioned to overdue by the sweep.",
		}),
		ReturnsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biblio_returns_processed_total",
			Help: "Total number of copy returns registered.",
		}),
		SanctionsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biblio_sanctions_applied_total",
			Help: "Total number of user sanctions applied.",
		}),
		ReservationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biblio_reservations_created_total",
			Help: "Total number of reservations created.",
		}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biblio_notifications_sent_total",
			Help: "Notifications handed to the sink, by template and outcome.",
		}, []string{"template", "outcome"}),
		UsersRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biblio_users_registered_total",
			Help: "Total number of users registered.",
		}),
		UsersActivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biblio_users_activated_total",
			Help: "Total number of accounts activated via token.",
		}),
		CopyStateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biblio_copy_state_transitions_total",
			Help: "Copy state transitions, by prior and new state.",
		}, []string{"from", "to"}),
	}
}

// IncLoansCreated increments the loan counter when metrics are wired.
func (m *Metrics) IncLoansCreated() {
	if m != nil {
		m.LoansCreated.Inc()
	}
}

func (m *Metrics) AddLoansOverdue(n int) {
	if m != nil {
		m.LoansOverdue.Add(float64(n))
	}
}

func (m *Metrics) IncReturnsProcessed() {
	if m != nil {
		m.ReturnsProcessed.Inc()
	}
}

func (m *Metrics) IncSanctionsApplied() {
	if m != nil {
		m.SanctionsApplied.Inc()
	}
}

func (m *Metrics) IncReservationsCreated() {
	if m != nil {
		m.ReservationsCreated.Inc()
	}
}

func (m *Metrics) IncNotificationSent(template string, ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.NotificationsSent.WithLabelValues(template, outcome).Inc()
}

func (m *Metrics) IncUsersRegistered() {
	if m != nil {
		m.UsersRegistered.Inc()
	}
}

func (m *Metrics) IncUsersActivated() {
	if m != nil {
		m.UsersActivated.Inc()
	}
}

func (m *Metrics) IncCopyTransition(from, to string) {
	if m != nil {
		m.CopyStateTransitions.WithLabelValues(from, to).Inc()
	}
}
