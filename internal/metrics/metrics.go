// Package metrics exposes Prometheus collectors for the billing ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sitegen",
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Ledger entries recorded, by entry type.",
}, []string{"type"})

var tokensMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sitegen",
	Subsystem: "ledger",
	Name:      "tokens_moved_total",
	Help:      "Absolute token amounts moved through the ledger, by entry type.",
}, []string{"type"})

var errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sitegen",
	Subsystem: "ledger",
	Name:      "errors_total",
	Help:      "Failed or declined ledger operations, by operation and error kind.",
}, []string{"operation", "kind"})

// LedgerCollector implements the ledger service's metrics hooks on top
// of the Prometheus default registry.
type LedgerCollector struct{}

func NewLedgerCollector() *LedgerCollector { return &LedgerCollector{} }

func (c *LedgerCollector) RecordTransaction(entryType string, amount int64) {
	transactionsTotal.WithLabelValues(entryType).Inc()
	if amount < 0 {
		amount = -amount
	}
	tokensMoved.WithLabelValues(entryType).Add(float64(amount))
}

func (c *LedgerCollector) RecordError(operation, kind string) {
	errorsTotal.WithLabelValues(operation, kind).Inc()
}
