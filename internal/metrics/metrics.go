package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts engine operations by name and outcome
	// (ok | rejected | error).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "operations_total",
		Help:      "Engine operations by operation name and outcome.",
	}, []string{"operation", "outcome"})

	// CorruptionDetectedTotal counts ledger balance mismatches. Any increment
	// is an alert condition: the core financial invariant broke.
	CorruptionDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "ledger_corruption_detected_total",
		Help:      "Ledger running-balance mismatches detected.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "notifications_total",
		Help:      "Outbox notifications by dispatch status.",
	}, []string{"status"})
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	// OutcomeNoop marks an operation whose decision was recorded but moved no
	// money, such as resolving a dispute on an already terminal project.
	OutcomeNoop = "noop"
)
