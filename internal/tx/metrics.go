package tx

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhanjx1314/oos/internal/action"
)

// Metrics counts transaction outcomes, visited actions and snapshots.
// A nil *Metrics records nothing.
type Metrics struct {
	transactions *prometheus.CounterVec
	actions      *prometheus.CounterVec
	snapshots    prometheus.Counter
	backupBytes  prometheus.Counter
}

// Transaction outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeFailed     = "failed"
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oos",
			Subsystem: "tx",
			Name:      "transactions_total",
			Help:      "Transactions that reached an outcome.",
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oos",
			Subsystem: "tx",
			Name:      "actions_visited_total",
			Help:      "Actions handed to the backend on commit.",
		}, []string{"kind"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oos",
			Subsystem: "tx",
			Name:      "snapshots_total",
			Help:      "Pre-images captured into backup stores.",
		}),
		backupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oos",
			Subsystem: "tx",
			Name:      "backup_bytes_total",
			Help:      "Bytes written into backup stores.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.actions, m.snapshots, m.backupBytes)
	}
	return m
}

// Transactions returns the outcome counter vector.
func (m *Metrics) Transactions() *prometheus.CounterVec { return m.transactions }

// Actions returns the visited actions counter vector.
func (m *Metrics) Actions() *prometheus.CounterVec { return m.actions }

// Snapshots returns the snapshot counter.
func (m *Metrics) Snapshots() prometheus.Counter { return m.snapshots }

func (m *Metrics) outcome(o string) {
	if m != nil {
		m.transactions.WithLabelValues(o).Inc()
	}
}

func (m *Metrics) visited(k action.Kind) {
	if m != nil {
		m.actions.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) snapshot(n int) {
	if m != nil {
		m.snapshots.Inc()
		m.backupBytes.Add(float64(n))
	}
}
