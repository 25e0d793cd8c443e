package store

import (
	"context"
	"fmt"

	"ticket-ledger/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

type CatalogStore struct {
	app core.App
}

func NewCatalogStore(app core.App) *CatalogStore {
	return &CatalogStore{app: app}
}

func (s *CatalogStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	record, err := s.app.FindRecordById(CollectionEvents, id)
	if err != nil {
		return nil, lookupErr(err, "event %s", id)
	}
	return EventFromRecord(record), nil
}

func (s *CatalogStore) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	record, err := s.app.FindRecordById(CollectionVenues, id)
	if err != nil {
		return nil, lookupErr(err, "venue %s", id)
	}
	return VenueFromRecord(record), nil
}

// MarkEventExpired goes around the record hooks; expiry only moves forward
// so there is nothing for them to check.
func (s *CatalogStore) MarkEventExpired(ctx context.Context, id string) error {
	if _, err := conditionalUpdate(s.app, CollectionEvents, dbx.Params{"expired": true}, dbx.HashExp{"id": id}); err != nil {
		return fmt.Errorf("expire event %s: %w", id, err)
	}
	return nil
}

func (s *CatalogStore) SetEventVerifiers(ctx context.Context, id string, verifiers []string) error {
	record, err := s.app.FindRecordById(CollectionEvents, id)
	if err != nil {
		return lookupErr(err, "event %s", id)
	}
	record.Set("verifiers", verifiers)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save verifiers of event %s: %w", id, err)
	}
	return nil
}

func EventFromRecord(record *core.Record) *models.Event {
	return &models.Event{
		ID:          record.Id,
		Title:       record.GetString("title"),
		Description: record.GetString("description"),
		CreatedBy:   record.GetString("created_by"),
		VenueID:     record.GetString("venue_id"),
		StartAt:     record.GetDateTime("start_at").Time(),
		EndAt:       record.GetDateTime("end_at").Time(),
		MaxTickets:  record.GetInt("max_tickets"),
		Expired:     record.GetBool("expired"),
		Duration:    record.GetFloat("duration"),
		Verifiers:   record.GetStringSlice("verifiers"),
	}
}

func VenueFromRecord(record *core.Record) *models.Venue {
	return &models.Venue{
		ID:          record.Id,
		Name:        record.GetString("name"),
		Description: record.GetString("description"),
		City:        record.GetString("city"),
		State:       record.GetString("state"),
		Country:     record.GetString("country"),
		Capacity:    record.GetInt("capacity"),
		Latitude:    record.GetString("latitude"),
		Longitude:   record.GetString("longitude"),
		CreatedBy:   record.GetString("created_by"),
	}
}
