package kiosk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Cycles               *prometheus.CounterVec
	ChallengesIssued     prometheus.Counter
	Commits              prometheus.Counter
	NotificationFailures prometheus.Counter
	Faults               prometheus.Counter
	FlushFailures        prometheus.Counter
	State                *prometheus.GaugeVec
}

// NewMetrics registers the kiosk metrics with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_cycles_total",
			Help: "Motion cycles by outcome",
		}, []string{"outcome"}),
		ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiosk_challenges_issued_total",
			Help: "Total number of challenge codes issued",
		}),
		Commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiosk_attendance_commits_total",
			Help: "Total number of attendance events committed",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiosk_notification_failures_total",
			Help: "Challenge codes that could not be handed to the notification sink",
		}),
		Faults: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiosk_capture_faults_total",
			Help: "Sensor and camera errors retried by the state machine",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiosk_ledger_flush_failures_total",
			Help: "Ledger flushes that failed and were left for the next attempt",
		}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kiosk_state",
			Help: "1 for the current state machine state, 0 otherwise",
		}, []string{"state"}),
	}
}

func (m *Metrics) setState(s State) {
	for st := StateIdle; st <= StateFailed; st++ {
		v := 0.0
		if st == s {
			v = 1
		}
		m.State.WithLabelValues(st.String()).Set(v)
	}
}
