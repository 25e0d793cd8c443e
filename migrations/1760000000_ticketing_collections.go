package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

var userTicketingFields = []string{
	"role",
	"created_by",
	"buyer_wallet_address",
	"buyer_wallet_key",
	"seller_wallet_address",
	"seller_wallet_key",
}

const (
	// Wallets are provisioned by the server and roles change through the
	// account routes, so neither can be written through the record API.
	walletFieldsUntouched = "@request.body.buyer_wallet_address:isset = false && @request.body.buyer_wallet_key:isset = false && " +
		"@request.body.seller_wallet_address:isset = false && @request.body.seller_wallet_key:isset = false"

	userCreateRule = "(" + walletFieldsUntouched + ") && (" +
		"((@request.body.role = 'buyer' || @request.body.role = 'seller' || @request.body.role = 'venueManager') && @request.body.created_by:isset = false) || " +
		"(@request.body.role = 'verifier' && @request.auth.role = 'seller' && @request.body.created_by = @request.auth.id))"

	userUpdateRule = "id = @request.auth.id && @request.body.role:isset = false && @request.body.created_by:isset = false && " +
		walletFieldsUntouched
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		users.Fields.Add(
			&core.SelectField{
				Name:      "role",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"buyer", "seller", "venueManager", "verifier"},
			},
			&core.RelationField{Name: "created_by", CollectionId: users.Id, MaxSelect: 1},
			&core.TextField{Name: "buyer_wallet_address", Max: 42},
			&core.TextField{Name: "buyer_wallet_key", Hidden: true},
			&core.TextField{Name: "seller_wallet_address", Max: 42},
			&core.TextField{Name: "seller_wallet_key", Hidden: true},
		)
		users.CreateRule = types.Pointer(userCreateRule)
		users.UpdateRule = types.Pointer(userUpdateRule)
		if err := app.Save(users); err != nil {
			return err
		}

		venues := core.NewBaseCollection("venues")
		venues.ListRule = types.Pointer("")
		venues.ViewRule = types.Pointer("")
		venues.CreateRule = types.Pointer("@request.auth.role = 'venueManager' && @request.body.created_by = @request.auth.id")
		venues.UpdateRule = types.Pointer("@request.auth.id = created_by && @request.body.created_by:isset = false")
		venues.DeleteRule = types.Pointer("@request.auth.id = created_by")
		venues.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 200},
			&core.TextField{Name: "description"},
			&core.TextField{Name: "city"},
			&core.TextField{Name: "state"},
			&core.TextField{Name: "country"},
			&core.NumberField{Name: "capacity", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.TextField{Name: "latitude"},
			&core.TextField{Name: "longitude"},
			&core.RelationField{Name: "created_by", CollectionId: users.Id, MaxSelect: 1, Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(venues); err != nil {
			return err
		}

		events := core.NewBaseCollection("events")
		events.ListRule = types.Pointer("")
		events.ViewRule = types.Pointer("")
		events.CreateRule = types.Pointer("@request.auth.role = 'seller' && @request.body.created_by = @request.auth.id")
		events.UpdateRule = types.Pointer("@request.auth.id = created_by && @request.body.created_by:isset = false && @request.body.verifiers:isset = false")
		events.DeleteRule = types.Pointer("@request.auth.id = created_by")
		events.Fields.Add(
			&core.TextField{Name: "title", Required: true, Max: 200},
			&core.TextField{Name: "description"},
			&core.RelationField{Name: "created_by", CollectionId: users.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "venue_id", CollectionId: venues.Id, MaxSelect: 1, Required: true},
			&core.DateField{Name: "start_at", Required: true},
			&core.DateField{Name: "end_at", Required: true},
			&core.NumberField{Name: "max_tickets", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.BoolField{Name: "expired"},
			&core.NumberField{Name: "duration"},
			&core.RelationField{Name: "verifiers", CollectionId: users.Id, MaxSelect: 100},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(events); err != nil {
			return err
		}

		// Tickets only change through the lifecycle routes.
		tickets := core.NewBaseCollection("tickets")
		tickets.Fields.Add(
			&core.TextField{Name: "nft_id", Required: true},
			&core.TextField{Name: "wallet_id"},
			&core.BoolField{Name: "sold"},
			&core.BoolField{Name: "used"},
			&core.RelationField{Name: "event_id", CollectionId: events.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "venue_id", CollectionId: venues.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "created_by", CollectionId: users.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "bought_by", CollectionId: users.Id, MaxSelect: 1},
			&core.TextField{Name: "claimed_by"},
			&core.TextField{Name: "price", Required: true},
			&core.TextField{Name: "token_uri", Required: true},
			&core.TextField{Name: "tx_hash"},
			&core.JSONField{Name: "metadata"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		tickets.AddIndex("idx_tickets_nft_id", true, "nft_id", "")
		tickets.AddIndex("idx_tickets_event_id", false, "event_id", "")
		tickets.AddIndex("idx_tickets_bought_by", false, "bought_by", "")
		if err := app.Save(tickets); err != nil {
			return err
		}

		intents := core.NewBaseCollection("ledger_intents")
		intents.Fields.Add(
			&core.SelectField{Name: "op", Required: true, MaxSelect: 1, Values: []string{"mint", "purchase", "burn"}},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "submitted", "confirmed", "failed", "gap", "manual"},
			},
			&core.TextField{Name: "ticket_id"},
			&core.TextField{Name: "actor_id"},
			&core.TextField{Name: "wallet"},
			&core.TextField{Name: "token_id"},
			&core.TextField{Name: "tx_hash"},
			&core.JSONField{Name: "payload"},
			&core.TextField{Name: "error"},
			&core.TextField{Name: "request_id"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		intents.AddIndex("idx_ledger_intents_status_updated", false, "status, updated", "")
		return app.Save(intents)
	}, func(app core.App) error {
		for _, name := range []string{"ledger_intents", "tickets", "events", "venues"} {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				continue
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}

		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		for _, name := range userTicketingFields {
			users.Fields.RemoveByName(name)
		}
		users.CreateRule = types.Pointer("")
		users.UpdateRule = types.Pointer("id = @request.auth.id")
		return app.Save(users)
	})
}
