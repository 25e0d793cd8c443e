package monitoring

import (
	"context"
	"log/slog"
	"time"

	"ticket-ledger/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_calls_total",
			Help: "Ledger write submissions by operation and outcome",
		},
		[]string{"operation", "result"},
	)

	ledgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_call_duration_seconds",
			Help:    "Time from gas estimation to node acceptance",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)

	ticketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_operations_total",
			Help: "Ticket lifecycle operations by outcome",
		},
		[]string{"operation", "status"},
	)

	ledgerIntents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_intents",
			Help: "Ledger intents by status",
		},
		[]string{"status"},
	)

	reconcileResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reconcile_results_total",
			Help: "Reconciler decisions per intent",
		},
		[]string{"operation", "result"},
	)
)

func TrackLedgerCall(operation, result string, duration time.Duration) {
	ledgerCalls.WithLabelValues(operation, result).Inc()
	ledgerCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func TrackTicketOperation(operation, status string) {
	ticketOperations.WithLabelValues(operation, status).Inc()
}

func TrackReconcile(operation, result string) {
	reconcileResults.WithLabelValues(operation, result).Inc()
}

// IntentCounter reports how many ledger intents sit in each status.
type IntentCounter interface {
	CountIntentsByStatus(ctx context.Context) (map[models.IntentStatus]int, error)
}

type Monitor struct {
	intents  IntentCounter
	interval time.Duration
}

func NewMonitor(intents IntentCounter, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{intents: intents, interval: interval}
}

// Run refreshes the intent gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.collectIntentMetrics(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) collectIntentMetrics(ctx context.Context) {
	counts, err := m.intents.CountIntentsByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count ledger intents", "error", err)
		return
	}

	for _, s := range []models.IntentStatus{
		models.IntentPending,
		models.IntentSubmitted,
		models.IntentConfirmed,
		models.IntentFailed,
		models.IntentGap,
		models.IntentManual,
	} {
		ledgerIntents.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
