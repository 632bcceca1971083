package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters on the /metrics endpoint.
type Metrics struct {
	PaymentsOpened          prometheus.Counter
	PaymentsConfirmed       *prometheus.CounterVec
	PaymentsRefunded        *prometheus.CounterVec
	LedgerEntries           *prometheus.CounterVec
	ReconciliationFailures  *prometheus.CounterVec
	ConcurrencyRetriesTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the counters on reg; tests pass their own
// registry to avoid colliding with the default one.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PaymentsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_payments_opened_total",
			Help: "Payments opened against billable obligations.",
		}),
		PaymentsConfirmed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicore_payments_confirmed_total",
			Help: "Payments confirmed, by method.",
		}, []string{"method"}),
		PaymentsRefunded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicore_payments_refunded_total",
			Help: "Payments refunded, by method.",
		}, []string{"method"}),
		LedgerEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicore_ledger_entries_total",
			Help: "Ledger entries written, by reason.",
		}, []string{"reason"}),
		ReconciliationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicore_reconciliation_failures_total",
			Help: "Accounts frozen after a ledger replay mismatch.",
		}, []string{"account_kind"}),
		ConcurrencyRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_concurrency_retries_total",
			Help: "Optimistic version races lost and retried.",
		}),
	}
}
