// Package store keeps tickets, users, events and ledger intents in
// PocketBase collections. Lifecycle transitions are single conditional
// UPDATE statements so concurrent requests cannot both win.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ticket-ledger/internal/status"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

const (
	CollectionUsers   = "users"
	CollectionVenues  = "venues"
	CollectionEvents  = "events"
	CollectionTickets = "tickets"
	CollectionIntents = "ledger_intents"
)

func lookupErr(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return status.NotFound(format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// conditionalUpdate runs UPDATE ... WHERE where and reports whether a row
// matched. The updated timestamp is bumped alongside the change.
func conditionalUpdate(app core.App, table string, set dbx.Params, where dbx.Expression) (bool, error) {
	set["updated"] = types.NowDateTime().String()

	res, err := app.DB().Update(table, set, where).Execute()
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSONMap(raw string) (map[string]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
