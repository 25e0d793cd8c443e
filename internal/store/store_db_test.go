package store

import (
	"context"
	"testing"
	"time"

	"ticket-ledger/internal/services"
	"ticket-ledger/internal/status"
	_ "ticket-ledger/migrations"
	"ticket-ledger/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestApp boots a throwaway PocketBase data dir with every migration,
// including the ticketing collections, applied.
func newTestApp(t *testing.T) *tests.TestApp {
	t.Helper()
	app, err := tests.NewTestApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)
	return app
}

type catalog struct {
	seller  string
	buyer   string
	buyer2  string
	venueID string
	eventID string
}

func seedCatalog(t *testing.T, app core.App) catalog {
	t.Helper()

	users, err := app.FindCollectionByNameOrId(CollectionUsers)
	require.NoError(t, err)
	newUser := func(email string, role models.Role) string {
		record := core.NewRecord(users)
		record.SetEmail(email)
		record.SetPassword("1234567890")
		record.Set("role", string(role))
		require.NoError(t, app.Save(record))
		return record.Id
	}

	c := catalog{
		seller: newUser("seller@example.com", models.RoleSeller),
		buyer:  newUser("buyer@example.com", models.RoleBuyer),
		buyer2: newUser("buyer2@example.com", models.RoleBuyer),
	}

	venues, err := app.FindCollectionByNameOrId(CollectionVenues)
	require.NoError(t, err)
	venue := core.NewRecord(venues)
	venue.Set("name", "Riverside Hall")
	venue.Set("created_by", c.seller)
	require.NoError(t, app.Save(venue))
	c.venueID = venue.Id

	events, err := app.FindCollectionByNameOrId(CollectionEvents)
	require.NoError(t, err)
	event := core.NewRecord(events)
	event.Set("title", "Opening Night")
	event.Set("created_by", c.seller)
	event.Set("venue_id", c.venueID)
	event.Set("start_at", "2030-06-01 18:00:00.000Z")
	event.Set("end_at", "2030-06-01 22:00:00.000Z")
	require.NoError(t, app.Save(event))
	c.eventID = event.Id

	return c
}

func createTicket(t *testing.T, s *TicketStore, c catalog, nftID string) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		NFTID:     nftID,
		EventID:   c.eventID,
		VenueID:   c.venueID,
		CreatedBy: c.seller,
		Price:     decimal.RequireFromString("10"),
		Metadata:  models.TicketMetadata{TokenURI: "ipfs://ticket/" + nftID},
	}
	require.NoError(t, s.CreateTicket(context.Background(), ticket))
	require.NotEmpty(t, ticket.ID)
	return ticket
}

const buyerWallet = "0x1111111111111111111111111111111111111111"

func TestTicketStore_ClaimIsExclusive(t *testing.T) {
	app := newTestApp(t)
	c := seedCatalog(t, app)
	s := NewTicketStore(app)
	ctx := context.Background()
	ticket := createTicket(t, s, c, "1")

	ok, err := s.Claim(ctx, ticket.ID, c.buyer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, ticket.ID, c.buyer2)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, c.buyer, stored.ClaimedBy)

	// Only the claimant can let go.
	require.NoError(t, s.ReleaseClaim(ctx, ticket.ID, c.buyer2))
	stored, err = s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, c.buyer, stored.ClaimedBy)

	require.NoError(t, s.ReleaseClaim(ctx, ticket.ID, c.buyer))
	ok, err = s.Claim(ctx, ticket.ID, c.buyer2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTicketStore_MarkSoldNeedsTheClaimant(t *testing.T) {
	app := newTestApp(t)
	c := seedCatalog(t, app)
	s := NewTicketStore(app)
	ctx := context.Background()
	ticket := createTicket(t, s, c, "2")

	ok, err := s.MarkSold(ctx, ticket.ID, c.buyer, buyerWallet)
	require.NoError(t, err)
	assert.False(t, ok, "unclaimed ticket")

	ok, err = s.Claim(ctx, ticket.ID, c.buyer)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.MarkSold(ctx, ticket.ID, c.buyer2, buyerWallet)
	require.NoError(t, err)
	assert.False(t, ok, "someone else's claim")

	ok, err = s.MarkSold(ctx, ticket.ID, c.buyer, buyerWallet)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sold)
	assert.Equal(t, c.buyer, stored.BoughtBy)
	assert.Equal(t, buyerWallet, stored.WalletID)
	assert.Empty(t, stored.ClaimedBy)

	ok, err = s.Claim(ctx, ticket.ID, c.buyer2)
	require.NoError(t, err)
	assert.False(t, ok, "sold tickets cannot be claimed")
}

func TestTicketStore_MarkUsed(t *testing.T) {
	app := newTestApp(t)
	c := seedCatalog(t, app)
	s := NewTicketStore(app)
	ctx := context.Background()
	ticket := createTicket(t, s, c, "3")

	ok, err := s.MarkUsed(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, ok, "unsold ticket")

	_, err = s.Claim(ctx, ticket.ID, c.buyer)
	require.NoError(t, err)
	_, err = s.MarkSold(ctx, ticket.ID, c.buyer, buyerWallet)
	require.NoError(t, err)

	ok, err = s.MarkUsed(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkUsed(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, ok, "already used")

	used, err := s.ListTickets(ctx, services.TicketFilter{BoughtBy: c.buyer, UsedOnly: true})
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.Equal(t, ticket.ID, used[0].ID)
}

func TestTicketStore_DeleteUnsold(t *testing.T) {
	app := newTestApp(t)
	c := seedCatalog(t, app)
	s := NewTicketStore(app)
	ctx := context.Background()

	claimed := createTicket(t, s, c, "4")
	_, err := s.Claim(ctx, claimed.ID, c.buyer)
	require.NoError(t, err)
	ok, err := s.DeleteUnsold(ctx, claimed.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh := createTicket(t, s, c, "5")
	ok, err = s.DeleteUnsold(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetTicket(ctx, fresh.ID)
	assert.ErrorIs(t, err, status.ErrNotFound)

	n, err := s.CountEventTickets(ctx, c.eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTicketStore_OneRecordPerToken(t *testing.T) {
	app := newTestApp(t)
	c := seedCatalog(t, app)
	s := NewTicketStore(app)
	createTicket(t, s, c, "6")

	err := s.CreateTicket(context.Background(), &models.Ticket{
		NFTID:     "6",
		EventID:   c.eventID,
		VenueID:   c.venueID,
		CreatedBy: c.seller,
		Price:     decimal.RequireFromString("10"),
		Metadata:  models.TicketMetadata{TokenURI: "ipfs://again"},
	})
	assert.Error(t, err)

	found, err := s.FindByNFTID(context.Background(), "6")
	require.NoError(t, err)
	assert.Equal(t, "ipfs://ticket/6", found.Metadata.TokenURI)
}

func TestUserStore_SetWalletIfEmpty(t *testing.T) {
	app := newTestApp(t)
	c := seedCatalog(t, app)
	s := NewUserStore(app)
	ctx := context.Background()

	first := &models.Wallet{Address: buyerWallet, EncryptedKey: "sealed-1"}
	second := &models.Wallet{Address: "0x2222222222222222222222222222222222222222", EncryptedKey: "sealed-2"}

	ok, err := s.SetWalletIfEmpty(ctx, c.buyer, models.RoleBuyer, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetWalletIfEmpty(ctx, c.buyer, models.RoleBuyer, second)
	require.NoError(t, err)
	assert.False(t, ok)

	user, err := s.GetUser(ctx, c.buyer)
	require.NoError(t, err)
	require.NotNil(t, user.BuyerWallet)
	assert.Equal(t, first.Address, user.BuyerWallet.Address)
	assert.Equal(t, "sealed-1", user.BuyerWallet.EncryptedKey)
	assert.Nil(t, user.SellerWallet)

	// The seller slot is separate.
	ok, err = s.SetWalletIfEmpty(ctx, c.buyer, models.RoleSeller, second)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.SetWalletIfEmpty(ctx, c.buyer, models.RoleVerifier, second)
	assert.ErrorIs(t, err, status.ErrValidation)
}

func TestIntentStore_StaleQueue(t *testing.T) {
	app := newTestApp(t)
	s := NewIntentStore(app)
	ctx := context.Background()

	begin := func(op models.IntentOp) string {
		intent := &models.LedgerIntent{Op: op, TokenID: "42", Payload: map[string]any{"price": "10"}}
		require.NoError(t, s.Begin(ctx, intent))
		assert.Equal(t, models.IntentPending, intent.Status)
		return intent.ID
	}
	a := begin(models.OpMint)
	b := begin(models.OpPurchase)
	cID := begin(models.OpRedeem)

	// Timestamps carry millisecond precision.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Advance(ctx, a, models.IntentPending, services.IntentUpdate{}))

	cutoff := time.Now().Add(time.Minute)
	stale, err := s.Stale(ctx, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, b, stale[0].ID)
	assert.Equal(t, cID, stale[1].ID)
	assert.Equal(t, "10", stale[0].Payload["price"])

	require.NoError(t, s.Advance(ctx, b, models.IntentManual, services.IntentUpdate{Error: "needs an operator"}))
	require.NoError(t, s.Advance(ctx, cID, models.IntentConfirmed, services.IntentUpdate{TxHash: "0xabc"}))

	stale, err = s.Stale(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a, stale[0].ID)

	stale, err = s.Stale(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	counts, err := s.CountIntentsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.IntentPending])
	assert.Equal(t, 1, counts[models.IntentManual])
	assert.Equal(t, 1, counts[models.IntentConfirmed])

	err = s.Advance(ctx, "missing", models.IntentFailed, services.IntentUpdate{})
	assert.ErrorIs(t, err, status.ErrNotFound)
}
