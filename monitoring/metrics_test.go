package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-ledger/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticCounter struct {
	counts map[models.IntentStatus]int
	err    error
}

func (s staticCounter) CountIntentsByStatus(ctx context.Context) (map[models.IntentStatus]int, error) {
	return s.counts, s.err
}

func TestCollectIntentMetrics(t *testing.T) {
	m := NewMonitor(staticCounter{counts: map[models.IntentStatus]int{
		models.IntentPending: 3,
		models.IntentGap:     1,
		models.IntentManual:  2,
	}}, time.Minute)

	m.collectIntentMetrics(context.Background())

	assert.Equal(t, 3.0, testutil.ToFloat64(ledgerIntents.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ledgerIntents.WithLabelValues("gap")))
	assert.Equal(t, 2.0, testutil.ToFloat64(ledgerIntents.WithLabelValues("manual")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ledgerIntents.WithLabelValues("confirmed")))
}

func TestCollectIntentMetrics_ErrorKeepsLastValue(t *testing.T) {
	ledgerIntents.WithLabelValues("failed").Set(7)

	m := NewMonitor(staticCounter{err: errors.New("db closed")}, 0)
	m.collectIntentMetrics(context.Background())

	assert.Equal(t, 7.0, testutil.ToFloat64(ledgerIntents.WithLabelValues("failed")))
	assert.Equal(t, 30*time.Second, m.interval)
}

func TestTrackLedgerCall(t *testing.T) {
	before := testutil.ToFloat64(ledgerCalls.WithLabelValues("mintTicket", "accepted"))

	TrackLedgerCall("mintTicket", "accepted", 200*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(ledgerCalls.WithLabelValues("mintTicket", "accepted")))
}

func TestTrackTicketOperation(t *testing.T) {
	before := testutil.ToFloat64(ticketOperations.WithLabelValues("purchase", "conflict"))

	TrackTicketOperation("purchase", "conflict")
	TrackTicketOperation("purchase", "conflict")

	assert.Equal(t, before+2, testutil.ToFloat64(ticketOperations.WithLabelValues("purchase", "conflict")))
}
