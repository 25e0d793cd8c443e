package store

import (
	"context"
	"fmt"
	"time"

	"ticket-ledger/internal/services"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

type requestIDKey struct{}

// WithRequestID tags ctx so intents begun under it record the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type IntentStore struct {
	app core.App
}

func NewIntentStore(app core.App) *IntentStore {
	return &IntentStore{app: app}
}

func (s *IntentStore) Begin(ctx context.Context, intent *models.LedgerIntent) error {
	collection, err := s.app.FindCachedCollectionByNameOrId(CollectionIntents)
	if err != nil {
		return err
	}

	intent.Status = models.IntentPending
	if intent.RequestID == "" {
		intent.RequestID = RequestID(ctx)
	}

	record := core.NewRecord(collection)
	record.Set("op", string(intent.Op))
	record.Set("status", string(intent.Status))
	record.Set("ticket_id", intent.TicketID)
	record.Set("actor_id", intent.ActorID)
	record.Set("wallet", intent.Wallet)
	record.Set("token_id", intent.TokenID)
	record.Set("tx_hash", intent.TxHash)
	record.Set("payload", intent.Payload)
	record.Set("request_id", intent.RequestID)

	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("record %s intent: %w", intent.Op, err)
	}

	intent.ID = record.Id
	intent.Created = record.GetDateTime("created").Time()
	intent.Updated = record.GetDateTime("updated").Time()
	return nil
}

// Advance moves an intent to a new status. Empty update fields keep their
// stored value.
func (s *IntentStore) Advance(ctx context.Context, id string, to models.IntentStatus, update services.IntentUpdate) error {
	set := dbx.Params{"status": string(to)}
	if update.TicketID != "" {
		set["ticket_id"] = update.TicketID
	}
	if update.TokenID != "" {
		set["token_id"] = update.TokenID
	}
	if update.TxHash != "" {
		set["tx_hash"] = update.TxHash
	}
	if update.Error != "" {
		set["error"] = update.Error
	}

	ok, err := conditionalUpdate(s.app, CollectionIntents, set, dbx.HashExp{"id": id})
	if err != nil {
		return fmt.Errorf("advance intent %s to %s: %w", id, to, err)
	}
	if !ok {
		return status.NotFound("intent %s", id)
	}
	return nil
}

// Stale returns open intents created before the cutoff. The least recently
// touched come first, so intents the reconciler keeps revisiting rotate to
// the back of the queue.
func (s *IntentStore) Stale(ctx context.Context, before time.Time, limit int) ([]*models.LedgerIntent, error) {
	cutoff, err := types.ParseDateTime(before)
	if err != nil {
		return nil, err
	}

	var records []*core.Record
	err = s.app.RecordQuery(CollectionIntents).
		WithContext(ctx).
		AndWhere(dbx.In("status",
			string(models.IntentPending),
			string(models.IntentSubmitted),
			string(models.IntentGap),
		)).
		AndWhere(dbx.NewExp("created < {:cutoff}", dbx.Params{"cutoff": cutoff.String()})).
		OrderBy("updated ASC", "created ASC").
		Limit(int64(limit)).
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("load stale intents: %w", err)
	}

	intents := make([]*models.LedgerIntent, 0, len(records))
	for _, r := range records {
		in, err := intentFromRecord(r)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, nil
}

// CountIntentsByStatus feeds the intent gauge.
func (s *IntentStore) CountIntentsByStatus(ctx context.Context) (map[models.IntentStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}
	err := s.app.DB().
		Select("status", "COUNT(*) AS total").
		From(CollectionIntents).
		GroupBy("status").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.IntentStatus]int, len(rows))
	for _, row := range rows {
		counts[models.IntentStatus(row.Status)] = row.Total
	}
	return counts, nil
}

func intentFromRecord(record *core.Record) (*models.LedgerIntent, error) {
	payload, err := decodeJSONMap(record.GetString("payload"))
	if err != nil {
		return nil, fmt.Errorf("intent %s has invalid payload: %w", record.Id, err)
	}
	return &models.LedgerIntent{
		ID:        record.Id,
		Op:        models.IntentOp(record.GetString("op")),
		Status:    models.IntentStatus(record.GetString("status")),
		TicketID:  record.GetString("ticket_id"),
		ActorID:   record.GetString("actor_id"),
		Wallet:    record.GetString("wallet"),
		TokenID:   record.GetString("token_id"),
		TxHash:    record.GetString("tx_hash"),
		Payload:   payload,
		Error:     record.GetString("error"),
		RequestID: record.GetString("request_id"),
		Created:   record.GetDateTime("created").Time(),
		Updated:   record.GetDateTime("updated").Time(),
	}, nil
}
