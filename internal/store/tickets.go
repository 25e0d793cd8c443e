package store

import (
	"context"
	"fmt"

	"ticket-ledger/internal/services"
	"ticket-ledger/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

type TicketStore struct {
	app core.App
}

func NewTicketStore(app core.App) *TicketStore {
	return &TicketStore{app: app}
}

func (s *TicketStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	record, err := s.app.FindRecordById(CollectionTickets, id)
	if err != nil {
		return nil, lookupErr(err, "ticket %s", id)
	}
	return ticketFromRecord(record)
}

func (s *TicketStore) FindByNFTID(ctx context.Context, nftID string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByData(CollectionTickets, "nft_id", nftID)
	if err != nil {
		return nil, lookupErr(err, "ticket with token %s", nftID)
	}
	return ticketFromRecord(record)
}

func (s *TicketStore) ListTickets(ctx context.Context, filter services.TicketFilter) ([]*models.Ticket, error) {
	query := s.app.RecordQuery(CollectionTickets).WithContext(ctx)

	if filter.CreatedBy != "" {
		query.AndWhere(dbx.HashExp{"created_by": filter.CreatedBy})
	}
	if filter.BoughtBy != "" {
		query.AndWhere(dbx.HashExp{"bought_by": filter.BoughtBy, "sold": true})
	}
	if filter.Party != "" {
		query.AndWhere(dbx.Or(
			dbx.HashExp{"created_by": filter.Party},
			dbx.HashExp{"bought_by": filter.Party},
		))
	}
	if filter.UsedOnly {
		query.AndWhere(dbx.HashExp{"used": true})
	}

	var records []*core.Record
	if err := query.OrderBy("created DESC").All(&records); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	tickets := make([]*models.Ticket, 0, len(records))
	for _, r := range records {
		t, err := ticketFromRecord(r)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func (s *TicketStore) CountEventTickets(ctx context.Context, eventID string) (int, error) {
	n, err := s.app.CountRecords(CollectionTickets, dbx.HashExp{"event_id": eventID})
	if err != nil {
		return 0, fmt.Errorf("count tickets of event %s: %w", eventID, err)
	}
	return int(n), nil
}

// CreateTicket inserts the record; the unique nft_id index rejects a second
// record for the same token.
func (s *TicketStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	collection, err := s.app.FindCachedCollectionByNameOrId(CollectionTickets)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	applyTicket(record, t)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save ticket for token %s: %w", t.NFTID, err)
	}

	t.ID = record.Id
	t.Created = record.GetDateTime("created").Time()
	t.Updated = record.GetDateTime("updated").Time()
	return nil
}

func (s *TicketStore) UpdateMetadata(ctx context.Context, id string, extra map[string]any) (bool, error) {
	raw, err := encodeJSON(extra)
	if err != nil {
		return false, err
	}
	return conditionalUpdate(s.app, CollectionTickets,
		dbx.Params{"metadata": raw},
		dbx.HashExp{"id": id, "sold": false},
	)
}

func (s *TicketStore) DeleteUnsold(ctx context.Context, id string) (bool, error) {
	res, err := s.app.DB().Delete(CollectionTickets, dbx.HashExp{"id": id, "sold": false, "claimed_by": ""}).Execute()
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *TicketStore) Claim(ctx context.Context, id, buyerID string) (bool, error) {
	return conditionalUpdate(s.app, CollectionTickets,
		dbx.Params{"claimed_by": buyerID},
		dbx.HashExp{"id": id, "sold": false, "claimed_by": ""},
	)
}

func (s *TicketStore) ReleaseClaim(ctx context.Context, id, buyerID string) error {
	_, err := conditionalUpdate(s.app, CollectionTickets,
		dbx.Params{"claimed_by": ""},
		dbx.HashExp{"id": id, "sold": false, "claimed_by": buyerID},
	)
	return err
}

func (s *TicketStore) MarkSold(ctx context.Context, id, buyerID, wallet string) (bool, error) {
	return conditionalUpdate(s.app, CollectionTickets,
		dbx.Params{"sold": true, "bought_by": buyerID, "wallet_id": wallet, "claimed_by": ""},
		dbx.HashExp{"id": id, "sold": false, "claimed_by": buyerID},
	)
}

func (s *TicketStore) MarkUsed(ctx context.Context, id string) (bool, error) {
	return conditionalUpdate(s.app, CollectionTickets,
		dbx.Params{"used": true},
		dbx.HashExp{"id": id, "sold": true, "used": false},
	)
}

func applyTicket(record *core.Record, t *models.Ticket) {
	record.Set("nft_id", t.NFTID)
	record.Set("wallet_id", t.WalletID)
	record.Set("sold", t.Sold)
	record.Set("used", t.Used)
	record.Set("event_id", t.EventID)
	record.Set("venue_id", t.VenueID)
	record.Set("created_by", t.CreatedBy)
	record.Set("bought_by", t.BoughtBy)
	record.Set("claimed_by", t.ClaimedBy)
	record.Set("price", t.Price.String())
	record.Set("token_uri", t.Metadata.TokenURI)
	record.Set("tx_hash", t.Metadata.TxHash)
	record.Set("metadata", t.Metadata.Extra)
}

func ticketFromRecord(record *core.Record) (*models.Ticket, error) {
	price, err := decimal.NewFromString(record.GetString("price"))
	if err != nil {
		return nil, fmt.Errorf("ticket %s has invalid price: %w", record.Id, err)
	}

	extra, err := decodeJSONMap(record.GetString("metadata"))
	if err != nil {
		return nil, fmt.Errorf("ticket %s has invalid metadata: %w", record.Id, err)
	}

	return &models.Ticket{
		ID:        record.Id,
		NFTID:     record.GetString("nft_id"),
		WalletID:  record.GetString("wallet_id"),
		Sold:      record.GetBool("sold"),
		Used:      record.GetBool("used"),
		EventID:   record.GetString("event_id"),
		VenueID:   record.GetString("venue_id"),
		CreatedBy: record.GetString("created_by"),
		BoughtBy:  record.GetString("bought_by"),
		ClaimedBy: record.GetString("claimed_by"),
		Price:     price,
		Metadata: models.TicketMetadata{
			TokenURI: record.GetString("token_uri"),
			TxHash:   record.GetString("tx_hash"),
			Extra:    extra,
		},
		Created: record.GetDateTime("created").Time(),
		Updated: record.GetDateTime("updated").Time(),
	}, nil
}
