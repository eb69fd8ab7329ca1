package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestrator
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptmeter_outcomes_total",
			Help: "Terminal outcomes of user requests",
		},
		[]string{"kind", "reason"},
	)

	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptmeter_requests_in_flight",
			Help: "User requests currently being processed",
		},
	)

	// AI gateway
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptmeter_gateway_requests_total",
			Help: "Completion requests sent to the AI provider",
		},
		[]string{"model", "status"}, // status: ok or a failure reason
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptmeter_gateway_request_duration_seconds",
			Help:    "AI provider request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"model"},
	)

	// Ledger
	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptmeter_ledger_operations_total",
			Help: "Ledger operations by result",
		},
		[]string{"operation", "result"},
	)

	JournalEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptmeter_journal_entries_total",
			Help: "Ledger entries persisted by the journal worker",
		},
		[]string{"kind", "result"},
	)
)
