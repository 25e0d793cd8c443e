package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/internal/wallet"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"

	"github.com/shopspring/decimal"
)

type ReconcilerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Reconciler looks at ledger intents that never reached a final status and
// asks the ledger what actually happened. It only applies the missing store
// update; it never submits ledger transactions.
type Reconciler struct {
	intents IntentLog
	tickets TicketStore
	ledger  LedgerReader
	cfg     ReconcilerConfig
	now     func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewReconciler(intents IntentLog, tickets TicketStore, l LedgerReader, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reconciler{
		intents:  intents,
		tickets:  tickets,
		ledger:   l,
		cfg:      cfg,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				if _, err := r.ReconcileOnce(ctx); err != nil {
					slog.Error("Reconcile pass failed", "error", err)
				}
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	close(r.stopChan)
	r.wg.Wait()
}

// ReconcileOnce handles one batch of stale intents and returns how many
// reached a final status.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	stale, err := r.intents.Stale(ctx, r.now().Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, intent := range stale {
		result, err := r.reconcile(ctx, intent)
		if err != nil {
			slog.Error("Failed to reconcile ledger intent",
				"intent_id", intent.ID,
				"op", intent.Op,
				"ticket_id", intent.TicketID,
				"token_id", intent.TokenID,
				"tx_hash", intent.TxHash,
				"error", err,
			)
			monitoring.TrackReconcile(string(intent.Op), "error")
			if _, err := r.stillPending(ctx, intent); err != nil {
				slog.Warn("Failed to requeue ledger intent", "intent_id", intent.ID, "error", err)
			}
			continue
		}
		monitoring.TrackReconcile(string(intent.Op), result)
		if result == "confirmed" || result == "failed" {
			resolved++
		}
	}
	return resolved, nil
}

func (r *Reconciler) reconcile(ctx context.Context, intent *models.LedgerIntent) (string, error) {
	switch intent.Op {
	case models.OpMint:
		return r.reconcileMint(ctx, intent)
	case models.OpPurchase:
		return r.reconcilePurchase(ctx, intent)
	case models.OpRedeem:
		return r.reconcileBurn(ctx, intent)
	}
	return "", fmt.Errorf("unknown intent op %q", intent.Op)
}

func (r *Reconciler) reconcileMint(ctx context.Context, intent *models.LedgerIntent) (string, error) {
	if intent.TxHash == "" {
		return r.unresolvable(ctx, intent, "mint has no transaction hash")
	}

	state, receipt, err := r.ledger.TxStatus(ctx, intent.TxHash)
	if err != nil {
		return "", err
	}
	switch state {
	case ledger.TxUnknown:
		return r.stillPending(ctx, intent)
	case ledger.TxReverted:
		return r.finish(ctx, intent, models.IntentFailed, IntentUpdate{Error: "mint transaction reverted"})
	}

	tokenID := intent.TokenID
	if tokenID == "" {
		if tokenID, err = r.ledger.MintedTokenID(receipt); err != nil {
			return r.unresolvable(ctx, intent, err.Error())
		}
	}

	existing, err := r.tickets.FindByNFTID(ctx, tokenID)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return "", err
	}
	if existing != nil {
		return r.finish(ctx, intent, models.IntentConfirmed, IntentUpdate{TicketID: existing.ID, TokenID: tokenID})
	}

	ticket, err := ticketFromMintIntent(intent, tokenID)
	if err != nil {
		return r.unresolvable(ctx, intent, err.Error())
	}
	if err := r.tickets.CreateTicket(ctx, ticket); err != nil {
		return "", err
	}
	slog.Info("Recreated ticket record from mint", "ticket_id", ticket.ID, "token_id", tokenID, "tx_hash", intent.TxHash)
	return r.finish(ctx, intent, models.IntentConfirmed, IntentUpdate{TicketID: ticket.ID, TokenID: tokenID})
}

// reconcilePurchase trusts token ownership first: if the buyer's wallet
// holds the token the sale happened. A successful receipt also settles the
// sale, since the buyer may have moved the token on since. The claim is only
// given back when the ledger shows no payment at all.
func (r *Reconciler) reconcilePurchase(ctx context.Context, intent *models.LedgerIntent) (string, error) {
	owner, exists, err := r.ledger.OwnerOf(ctx, intent.TokenID)
	if err != nil {
		return "", err
	}

	if exists && wallet.SameAddress(owner.Hex(), intent.Wallet) {
		return r.finalizePurchase(ctx, intent)
	}

	if intent.TxHash != "" {
		state, _, err := r.ledger.TxStatus(ctx, intent.TxHash)
		if err != nil {
			return "", err
		}
		switch state {
		case ledger.TxUnknown:
			return r.stillPending(ctx, intent)
		case ledger.TxSucceeded:
			slog.Warn("Purchase succeeded but buyer no longer holds the token",
				"ticket_id", intent.TicketID,
				"token_id", intent.TokenID,
				"tx_hash", intent.TxHash,
				"owner", owner.Hex(),
			)
			return r.finalizePurchase(ctx, intent)
		}
	}

	// No payment reached the buyer's wallet: give the ticket back.
	if err := r.tickets.ReleaseClaim(ctx, intent.TicketID, intent.ActorID); err != nil {
		return "", err
	}
	slog.Info("Released purchase claim without payment", "ticket_id", intent.TicketID, "buyer_id", intent.ActorID, "tx_hash", intent.TxHash)
	return r.finish(ctx, intent, models.IntentFailed, IntentUpdate{Error: "purchase not reflected on ledger"})
}

func (r *Reconciler) finalizePurchase(ctx context.Context, intent *models.LedgerIntent) (string, error) {
	sold, err := r.tickets.MarkSold(ctx, intent.TicketID, intent.ActorID, intent.Wallet)
	if err != nil {
		return "", err
	}
	if !sold {
		ticket, err := r.tickets.GetTicket(ctx, intent.TicketID)
		if err != nil {
			return "", err
		}
		if !ticket.Sold || ticket.BoughtBy != intent.ActorID {
			return r.unresolvable(ctx, intent, "purchase landed on the ledger but the ticket record disagrees")
		}
	}
	slog.Info("Finalized purchase from ledger", "ticket_id", intent.TicketID, "token_id", intent.TokenID, "tx_hash", intent.TxHash)
	return r.finish(ctx, intent, models.IntentConfirmed, IntentUpdate{})
}

func (r *Reconciler) reconcileBurn(ctx context.Context, intent *models.LedgerIntent) (string, error) {
	_, exists, err := r.ledger.OwnerOf(ctx, intent.TokenID)
	if err != nil {
		return "", err
	}

	if !exists {
		used, err := r.tickets.MarkUsed(ctx, intent.TicketID)
		if err != nil {
			return "", err
		}
		if !used {
			ticket, err := r.tickets.GetTicket(ctx, intent.TicketID)
			if err != nil {
				return "", err
			}
			if !ticket.Used {
				return r.unresolvable(ctx, intent, "token burned but ticket cannot be marked used")
			}
		}
		slog.Info("Finalized redemption from ledger", "ticket_id", intent.TicketID, "token_id", intent.TokenID, "tx_hash", intent.TxHash)
		return r.finish(ctx, intent, models.IntentConfirmed, IntentUpdate{})
	}

	if intent.TxHash != "" {
		state, _, err := r.ledger.TxStatus(ctx, intent.TxHash)
		if err != nil {
			return "", err
		}
		if state == ledger.TxUnknown {
			return r.stillPending(ctx, intent)
		}
	}
	return r.finish(ctx, intent, models.IntentFailed, IntentUpdate{Error: "token still exists"})
}

func (r *Reconciler) finish(ctx context.Context, intent *models.LedgerIntent, to models.IntentStatus, update IntentUpdate) (string, error) {
	if err := r.intents.Advance(ctx, intent.ID, to, update); err != nil {
		return "", err
	}
	return string(to), nil
}

// stillPending rewrites the intent in place so its updated time moves and
// the next pass looks at older intents first.
func (r *Reconciler) stillPending(ctx context.Context, intent *models.LedgerIntent) (string, error) {
	if err := r.intents.Advance(ctx, intent.ID, intent.Status, IntentUpdate{}); err != nil {
		return "", err
	}
	return "pending", nil
}

// unresolvable hands an intent over to an operator. Manual intents are
// closed for the reconciler, so they never crowd out newer work.
func (r *Reconciler) unresolvable(ctx context.Context, intent *models.LedgerIntent, reason string) (string, error) {
	slog.Error("Ledger intent needs manual reconciliation",
		"intent_id", intent.ID,
		"op", intent.Op,
		"ticket_id", intent.TicketID,
		"token_id", intent.TokenID,
		"tx_hash", intent.TxHash,
		"reason", reason,
	)
	if err := r.intents.Advance(ctx, intent.ID, models.IntentManual, IntentUpdate{Error: reason}); err != nil {
		return "", err
	}
	return "unresolved", nil
}

func ticketFromMintIntent(intent *models.LedgerIntent, tokenID string) (*models.Ticket, error) {
	str := func(key string) string {
		v, _ := intent.Payload[key].(string)
		return v
	}

	price, err := decimal.NewFromString(str("price"))
	if err != nil {
		return nil, fmt.Errorf("mint intent price: %w", err)
	}
	if str("event_id") == "" || str("venue_id") == "" || intent.ActorID == "" {
		return nil, errors.New("mint intent is missing event, venue or creator")
	}

	extra, _ := intent.Payload["metadata"].(map[string]any)
	return &models.Ticket{
		NFTID:     tokenID,
		WalletID:  intent.Wallet,
		EventID:   str("event_id"),
		VenueID:   str("venue_id"),
		CreatedBy: intent.ActorID,
		Price:     price,
		Metadata: models.TicketMetadata{
			TokenURI: str("token_uri"),
			TxHash:   intent.TxHash,
			Extra:    extra,
		},
	}, nil
}
