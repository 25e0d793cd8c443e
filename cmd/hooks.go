package cmd

import (
	"log/slog"
	"strconv"

	"ticket-ledger/internal/store"
	"ticket-ledger/models"

	"github.com/pocketbase/pocketbase/core"
)

func setupCatalogHooks(app core.App) {
	app.OnRecordCreate(store.CollectionEvents).BindFunc(func(e *core.RecordEvent) error {
		if err := applyEventRules(e.Record, false); err != nil {
			return err
		}
		return e.Next()
	})

	app.OnRecordUpdate(store.CollectionEvents).BindFunc(func(e *core.RecordEvent) error {
		if err := applyEventRules(e.Record, e.Record.Original().GetBool("expired")); err != nil {
			slog.Warn("Refused event update", "eventID", e.Record.Id, "error", err)
			return err
		}
		return e.Next()
	})

	app.OnRecordCreate(store.CollectionVenues).BindFunc(func(e *core.RecordEvent) error {
		normalizeVenueCoordinates(e.Record)
		return e.Next()
	})

	app.OnRecordUpdate(store.CollectionVenues).BindFunc(func(e *core.RecordEvent) error {
		normalizeVenueCoordinates(e.Record)
		return e.Next()
	})
}

// applyEventRules keeps duration in step with the dates and refuses to
// clear the expired flag once set.
func applyEventRules(record *core.Record, wasExpired bool) error {
	if err := models.ExpiredTransition(wasExpired, record.GetBool("expired")); err != nil {
		return err
	}

	start := record.GetDateTime("start_at")
	end := record.GetDateTime("end_at")
	if !start.IsZero() && !end.IsZero() {
		record.Set("duration", models.EventDuration(start.Time(), end.Time()))
	}
	return nil
}

// normalizeVenueCoordinates rewrites signed decimal coordinates into the
// "<abs>° North" form. Values that are already formatted are left alone.
func normalizeVenueCoordinates(record *core.Record) {
	lat, latErr := strconv.ParseFloat(record.GetString("latitude"), 64)
	lng, lngErr := strconv.ParseFloat(record.GetString("longitude"), 64)
	if latErr != nil || lngErr != nil {
		return
	}

	latitude, longitude := models.FormatCoordinates(lat, lng)
	record.Set("latitude", latitude)
	record.Set("longitude", longitude)
}
