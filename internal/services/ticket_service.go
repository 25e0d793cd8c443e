package services

import (
	"context"
	"errors"
	"log/slog"

	"ticket-ledger/internal/guard"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"

	"github.com/shopspring/decimal"
)

// Keys of ticket metadata fixed at mint.
var immutableMetadata = map[string]bool{"token_uri": true, "tx_hash": true, "nft_id": true}

type TicketDeps struct {
	Tickets  TicketStore
	Users    UserStore
	Catalog  CatalogStore
	Intents  IntentLog
	Ledger   Ledger
	Redeemer Redeemer
	Keys     Keyring
	Accounts *AccountService
	Notifier Notifier
	Attempts AttemptLimiter
}

// TicketService sequences ledger calls and store updates for the ticket
// lifecycle. Every ledger write is bracketed by an intent record so a
// failure between the two sides can be found and repaired later.
type TicketService struct {
	tickets  TicketStore
	users    UserStore
	catalog  CatalogStore
	intents  IntentLog
	ledger   Ledger
	redeemer Redeemer
	keys     Keyring
	accounts *AccountService
	notifier Notifier
	attempts AttemptLimiter
}

func NewTicketService(deps TicketDeps) *TicketService {
	return &TicketService{
		tickets:  deps.Tickets,
		users:    deps.Users,
		catalog:  deps.Catalog,
		intents:  deps.Intents,
		ledger:   deps.Ledger,
		redeemer: deps.Redeemer,
		keys:     deps.Keys,
		accounts: deps.Accounts,
		notifier: deps.Notifier,
		attempts: deps.Attempts,
	}
}

type CreateTicketRequest struct {
	EventID  string          `json:"event_id"`
	VenueID  string          `json:"venue_id"`
	Price    decimal.Decimal `json:"price"`
	TokenURI string          `json:"token_uri"`
	Metadata map[string]any  `json:"metadata"`
}

func (r CreateTicketRequest) validate() error {
	switch {
	case r.EventID == "":
		return status.Validation("event_id is required")
	case r.VenueID == "":
		return status.Validation("venue_id is required")
	case r.TokenURI == "":
		return status.Validation("token_uri is required")
	case !r.Price.IsPositive():
		return status.Validation("price must be positive")
	}
	return checkMetadataKeys(r.Metadata)
}

// CreateTicket mints the token first and writes the record only once the
// mint is confirmed. A failed mint leaves no record behind.
func (s *TicketService) CreateTicket(ctx context.Context, p guard.Principal, req CreateTicketRequest) (*Outcome, error) {
	out := &Outcome{}
	if err := req.validate(); err != nil {
		return out, err
	}

	event, err := s.catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return out, err
	}
	if err := guard.CanMint(p, event); err != nil {
		return out, err
	}
	if event.Expired {
		return out, status.Conflict("event %s has expired", event.ID)
	}
	if event.VenueID != req.VenueID {
		return out, status.Validation("venue %s does not host event %s", req.VenueID, event.ID)
	}
	if event.MaxTickets > 0 {
		count, err := s.tickets.CountEventTickets(ctx, event.ID)
		if err != nil {
			return out, err
		}
		if count >= event.MaxTickets {
			return out, status.Conflict("event %s already has %d tickets", event.ID, event.MaxTickets)
		}
	}

	user, err := s.users.GetUser(ctx, p.UserID)
	if err != nil {
		return out, err
	}
	w := user.WalletFor(models.RoleSeller)
	if w == nil {
		return out, status.Validation("seller wallet is not provisioned")
	}
	balance, err := s.ledger.Balance(ctx, w.Address)
	if err != nil {
		return out, err
	}
	if balance.Sign() <= 0 {
		return out, status.Conflict("seller wallet %s is not funded", w.Address)
	}
	signer, err := s.keys.Signer(w)
	if err != nil {
		return out, err
	}

	intent := &models.LedgerIntent{
		Op:      models.OpMint,
		ActorID: p.UserID,
		Wallet:  w.Address,
		Payload: map[string]any{
			"event_id":  req.EventID,
			"venue_id":  req.VenueID,
			"price":     req.Price.String(),
			"token_uri": req.TokenURI,
			"metadata":  req.Metadata,
		},
	}
	if err := s.intents.Begin(ctx, intent); err != nil {
		return out, err
	}

	minted, err := s.ledger.Mint(ctx, signer, req.TokenURI, req.Price, req.EventID, req.VenueID)
	if err != nil {
		if minted.TxHash != "" {
			out.add(EffectLedgerMint, minted.TokenID, minted.TxHash)
		}
		return out, s.ledgerFailed(ctx, intent, "", err)
	}
	out.add(EffectLedgerMint, minted.TokenID, minted.TxHash)
	s.advance(ctx, intent, models.IntentSubmitted, IntentUpdate{TokenID: minted.TokenID, TxHash: minted.TxHash})

	ticket := &models.Ticket{
		NFTID:     minted.TokenID,
		WalletID:  w.Address,
		EventID:   req.EventID,
		VenueID:   req.VenueID,
		CreatedBy: p.UserID,
		Price:     req.Price,
		Metadata: models.TicketMetadata{
			TokenURI: req.TokenURI,
			TxHash:   minted.TxHash,
			Extra:    req.Metadata,
		},
	}
	if err := s.tickets.CreateTicket(ctx, ticket); err != nil {
		return out, s.storeFailed(ctx, intent, "", minted.TokenID, minted.TxHash, err)
	}
	out.add(EffectTicketCreated, ticket.ID, "")
	s.advance(ctx, intent, models.IntentConfirmed, IntentUpdate{TicketID: ticket.ID})
	s.checkCapacity(ctx, event)

	monitoring.TrackTicketOperation("create", "success")
	s.notify(p.UserID, "ticket_minted", ticket)

	out.Ticket = ticket
	return out, nil
}

// checkCapacity recounts once the ticket is stored. Concurrent creators can
// all pass the count before minting; the tokens exist by then, so an
// overflow is reported rather than undone.
func (s *TicketService) checkCapacity(ctx context.Context, event *models.Event) {
	if event.MaxTickets <= 0 {
		return
	}
	count, err := s.tickets.CountEventTickets(ctx, event.ID)
	if err != nil || count <= event.MaxTickets {
		return
	}
	slog.Warn("Event exceeds its ticket capacity",
		"event_id", event.ID,
		"max_tickets", event.MaxTickets,
		"tickets", count,
	)
	monitoring.TrackTicketOperation("create", "over_capacity")
}

// PurchaseTicket claims the ticket in the store before paying, so only one
// buyer ever reaches the ledger. eventID is optional; when set it must match
// the ticket's event.
func (s *TicketService) PurchaseTicket(ctx context.Context, p guard.Principal, ticketID, eventID string) (*Outcome, error) {
	out := &Outcome{}

	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return out, err
	}
	if err := guard.CanPurchase(p, ticket); err != nil {
		return out, err
	}
	if eventID != "" && eventID != ticket.EventID {
		return out, status.Validation("ticket %s does not belong to event %s", ticket.ID, eventID)
	}
	if ticket.Sold {
		monitoring.TrackTicketOperation("purchase", "conflict")
		return out, status.Conflict("ticket %s is already sold", ticket.ID)
	}
	if ticket.ClaimedBy != "" {
		monitoring.TrackTicketOperation("purchase", "conflict")
		return out, status.Conflict("ticket %s is being purchased", ticket.ID)
	}
	if ticket.NFTID == "" {
		return out, status.Conflict("ticket %s has no token", ticket.ID)
	}

	w, created, err := s.accounts.EnsureWallet(ctx, p.UserID, models.RoleBuyer)
	if err != nil {
		return out, err
	}
	if created {
		out.add(EffectWalletProvisioned, string(models.RoleBuyer), "")
	}
	signer, err := s.keys.Signer(w)
	if err != nil {
		return out, err
	}

	claimed, err := s.tickets.Claim(ctx, ticket.ID, p.UserID)
	if err != nil {
		return out, err
	}
	if !claimed {
		monitoring.TrackTicketOperation("purchase", "conflict")
		return out, status.Conflict("ticket %s is already sold or being purchased", ticket.ID)
	}
	out.add(EffectTicketClaimed, ticket.ID, "")

	intent := &models.LedgerIntent{
		Op:       models.OpPurchase,
		TicketID: ticket.ID,
		ActorID:  p.UserID,
		Wallet:   w.Address,
		TokenID:  ticket.NFTID,
		Payload:  map[string]any{"price": ticket.Price.String()},
	}
	if err := s.intents.Begin(ctx, intent); err != nil {
		s.release(ctx, out, ticket.ID, p.UserID)
		return out, err
	}

	txHash, err := s.ledger.Purchase(ctx, signer, ticket.NFTID, ticket.Price)
	if err != nil {
		if errors.Is(err, status.ErrReconciliationGap) {
			// Payment may have gone through; keep the claim for the reconciler.
			return out, s.ledgerFailed(ctx, intent, ticket.ID, err)
		}
		s.release(ctx, out, ticket.ID, p.UserID)
		return out, s.ledgerFailed(ctx, intent, ticket.ID, err)
	}
	out.add(EffectLedgerPurchase, ticket.NFTID, txHash)
	s.advance(ctx, intent, models.IntentSubmitted, IntentUpdate{TxHash: txHash})

	sold, err := s.tickets.MarkSold(ctx, ticket.ID, p.UserID, w.Address)
	if err == nil && !sold {
		err = errors.New("claim lost before the sale was recorded")
	}
	if err != nil {
		return out, s.storeFailed(ctx, intent, ticket.ID, ticket.NFTID, txHash, err)
	}
	out.add(EffectTicketSold, ticket.ID, "")
	s.advance(ctx, intent, models.IntentConfirmed, IntentUpdate{})

	ticket.Sold = true
	ticket.BoughtBy = p.UserID
	ticket.WalletID = w.Address
	ticket.ClaimedBy = ""

	monitoring.TrackTicketOperation("purchase", "success")
	s.notify(p.UserID, "ticket_purchased", ticket)
	s.notify(ticket.CreatedBy, "ticket_sold", ticket)

	out.Ticket = ticket
	return out, nil
}

// PrepareRedemption issues a redemption code for a sold ticket. The hash is
// written from the holder's wallet since that wallet owns the token.
func (s *TicketService) PrepareRedemption(ctx context.Context, p guard.Principal, ticketID string) (*Outcome, error) {
	out := &Outcome{}

	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return out, err
	}
	event, err := s.catalog.GetEvent(ctx, ticket.EventID)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return out, err
	}
	if err := guard.CanPrepareRedemption(p, ticket, event); err != nil {
		return out, err
	}
	if !ticket.Sold || ticket.BoughtBy == "" {
		return out, status.Conflict("ticket %s has not been sold", ticket.ID)
	}
	if ticket.Used {
		return out, status.Conflict("ticket %s is already redeemed", ticket.ID)
	}

	signer, err := s.holderSigner(ctx, ticket)
	if err != nil {
		return out, err
	}

	prepared, err := s.redeemer.Prepare(ctx, ticket.ID, ticket.NFTID, signer)
	if err != nil {
		logLedgerError("prepare", ticket, "", err)
		return out, attachTicket(err, ticket.ID)
	}
	out.add(EffectLedgerRedemptionHash, ticket.NFTID, prepared.TxHash)

	monitoring.TrackTicketOperation("prepare_redemption", "success")
	if s.notifier != nil {
		s.notifier.Publish(ticket.BoughtBy, "ticket_redemption_prepared", map[string]any{
			"ticket_id":  ticket.ID,
			"expires_at": prepared.Expires,
		})
	}

	expires := prepared.Expires
	out.Ticket = ticket
	out.Code = prepared.Code
	out.ExpiresAt = &expires
	return out, nil
}

// RedeemTicket burns the token with the code and flags the ticket used once
// the burn is confirmed.
func (s *TicketService) RedeemTicket(ctx context.Context, p guard.Principal, ticketID, code string) (*Outcome, error) {
	out := &Outcome{}

	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return out, err
	}
	if err := guard.CanRedeem(p, ticket); err != nil {
		return out, err
	}
	if ticket.Used {
		monitoring.TrackTicketOperation("redeem", "conflict")
		return out, status.Conflict("ticket %s already burned", ticket.ID)
	}

	if s.attempts != nil {
		allowed, err := s.attempts.Allow(ctx, ticket.ID)
		if err != nil {
			slog.Warn("Redemption attempt limiter unavailable", "ticket_id", ticket.ID, "error", err)
		} else if !allowed {
			monitoring.TrackTicketOperation("redeem", "throttled")
			return out, status.Conflict("too many redemption attempts for ticket %s", ticket.ID)
		}
	}

	signer, err := s.holderSigner(ctx, ticket)
	if err != nil {
		return out, err
	}

	intent := &models.LedgerIntent{
		Op:       models.OpRedeem,
		TicketID: ticket.ID,
		ActorID:  p.UserID,
		Wallet:   ticket.WalletID,
		TokenID:  ticket.NFTID,
	}
	if err := s.intents.Begin(ctx, intent); err != nil {
		return out, err
	}

	txHash, err := s.redeemer.Consume(ctx, ticket.ID, ticket.NFTID, code, signer)
	if err != nil {
		if txHash != "" {
			out.add(EffectLedgerBurn, ticket.NFTID, txHash)
		}
		return out, s.ledgerFailed(ctx, intent, ticket.ID, err)
	}
	out.add(EffectLedgerBurn, ticket.NFTID, txHash)
	s.advance(ctx, intent, models.IntentSubmitted, IntentUpdate{TxHash: txHash})

	if s.attempts != nil {
		if err := s.attempts.Reset(ctx, ticket.ID); err != nil {
			slog.Warn("Failed to reset redemption attempts", "ticket_id", ticket.ID, "error", err)
		}
	}

	used, err := s.tickets.MarkUsed(ctx, ticket.ID)
	if err == nil && !used {
		err = errors.New("ticket changed before redemption was recorded")
	}
	if err != nil {
		return out, s.storeFailed(ctx, intent, ticket.ID, ticket.NFTID, txHash, err)
	}
	out.add(EffectTicketUsed, ticket.ID, "")
	s.advance(ctx, intent, models.IntentConfirmed, IntentUpdate{})

	ticket.Used = true

	monitoring.TrackTicketOperation("redeem", "success")
	s.notify(ticket.BoughtBy, "ticket_redeemed", ticket)
	s.notify(ticket.CreatedBy, "ticket_redeemed", ticket)

	out.Ticket = ticket
	return out, nil
}

// CancelTicket deletes an unsold ticket record. The token stays on the
// ledger; it is logged so it can be burned or reused out of band.
func (s *TicketService) CancelTicket(ctx context.Context, p guard.Principal, ticketID string) (*Outcome, error) {
	out := &Outcome{}

	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return out, err
	}
	if err := guard.CanModifyTicket(p, ticket); err != nil {
		return out, err
	}
	if ticket.Sold || ticket.ClaimedBy != "" {
		return out, status.Conflict("ticket %s is sold or being purchased", ticket.ID)
	}

	deleted, err := s.tickets.DeleteUnsold(ctx, ticket.ID)
	if err != nil {
		return out, err
	}
	if !deleted {
		return out, status.Conflict("ticket %s is sold or being purchased", ticket.ID)
	}
	out.add(EffectTicketDeleted, ticket.ID, "")

	slog.Warn("Ticket record deleted, token left on ledger",
		"ticket_id", ticket.ID,
		"token_id", ticket.NFTID,
		"tx_hash", ticket.Metadata.TxHash,
		"wallet", ticket.WalletID,
	)
	monitoring.TrackTicketOperation("cancel", "success")
	return out, nil
}

// UpdateTicketMetadata changes descriptive metadata of an unsold ticket.
func (s *TicketService) UpdateTicketMetadata(ctx context.Context, p guard.Principal, ticketID string, extra map[string]any) (*Outcome, error) {
	out := &Outcome{}
	if len(extra) == 0 {
		return out, status.Validation("metadata is required")
	}
	if err := checkMetadataKeys(extra); err != nil {
		return out, err
	}

	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return out, err
	}
	if err := guard.CanModifyTicket(p, ticket); err != nil {
		return out, err
	}
	if ticket.Sold {
		return out, status.Conflict("ticket %s is already sold", ticket.ID)
	}

	updated, err := s.tickets.UpdateMetadata(ctx, ticket.ID, extra)
	if err != nil {
		return out, err
	}
	if !updated {
		return out, status.Conflict("ticket %s is already sold", ticket.ID)
	}
	out.add(EffectTicketUpdated, ticket.ID, "")

	ticket.Metadata.Extra = extra
	out.Ticket = ticket
	return out, nil
}

func (s *TicketService) GetTicket(ctx context.Context, p guard.Principal, ticketID string) (*models.Ticket, error) {
	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := guard.CanView(p, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) ListTickets(ctx context.Context, p guard.Principal, scope models.TicketScope) ([]*models.Ticket, error) {
	if !p.Valid() {
		return nil, status.Unauthorized("unknown caller")
	}

	var filter TicketFilter
	switch scope {
	case models.ScopeCreated:
		filter.CreatedBy = p.UserID
	case models.ScopeBought:
		filter.BoughtBy = p.UserID
	case models.ScopeAll:
		filter.Party = p.UserID
	default:
		return nil, status.Validation("unknown scope %q", scope)
	}
	return s.tickets.ListTickets(ctx, filter)
}

// ListRedeemed lists used tickets: buyers see their own, verifiers see the
// tickets of the seller that created them.
func (s *TicketService) ListRedeemed(ctx context.Context, p guard.Principal) ([]*models.Ticket, error) {
	if err := guard.CanListRedeemed(p); err != nil {
		return nil, err
	}

	filter := TicketFilter{UsedOnly: true}
	if p.Role == models.RoleVerifier {
		if p.CreatedBy == "" {
			return []*models.Ticket{}, nil
		}
		filter.CreatedBy = p.CreatedBy
	} else {
		filter.BoughtBy = p.UserID
	}
	return s.tickets.ListTickets(ctx, filter)
}

func (s *TicketService) holderSigner(ctx context.Context, ticket *models.Ticket) (ledger.Signer, error) {
	holder, err := s.users.GetUser(ctx, ticket.BoughtBy)
	if err != nil {
		return nil, err
	}
	w := holder.WalletFor(models.RoleBuyer)
	if w == nil || w.Address != ticket.WalletID {
		return nil, status.Conflict("holder wallet for ticket %s does not match the ticket", ticket.ID)
	}
	return s.keys.Signer(w)
}

func (s *TicketService) release(ctx context.Context, out *Outcome, ticketID, buyerID string) {
	if err := s.tickets.ReleaseClaim(ctx, ticketID, buyerID); err != nil {
		slog.Error("Failed to release purchase claim", "ticket_id", ticketID, "buyer_id", buyerID, "error", err)
		return
	}
	out.add(EffectClaimReleased, ticketID, "")
}

// ledgerFailed records a failed ledger write on its intent. Unknown outcomes
// are parked as gaps for the reconciler; definite failures close the intent.
func (s *TicketService) ledgerFailed(ctx context.Context, intent *models.LedgerIntent, ticketID string, err error) error {
	var gap *status.GapError
	if errors.As(err, &gap) {
		if gap.TicketID == "" {
			gap.TicketID = ticketID
		}
		if gap.TokenID == "" {
			gap.TokenID = intent.TokenID
		}
		s.advance(ctx, intent, models.IntentGap, IntentUpdate{TokenID: gap.TokenID, TxHash: gap.TxHash, Error: err.Error()})
		logGap(intent, gap)
		monitoring.TrackTicketOperation(string(intent.Op), "gap")
		return gap
	}

	s.advance(ctx, intent, models.IntentFailed, IntentUpdate{Error: err.Error()})
	logLedgerError(string(intent.Op), &models.Ticket{ID: ticketID, NFTID: intent.TokenID}, "", err)
	monitoring.TrackTicketOperation(string(intent.Op), "failed")
	return attachTicket(err, ticketID)
}

// storeFailed handles the case where the ledger accepted a write but the
// matching store update did not land.
func (s *TicketService) storeFailed(ctx context.Context, intent *models.LedgerIntent, ticketID, tokenID, txHash string, err error) error {
	gap := status.Gap(string(intent.Op), ticketID, tokenID, txHash, err)
	s.advance(ctx, intent, models.IntentGap, IntentUpdate{TicketID: ticketID, TokenID: tokenID, TxHash: txHash, Error: err.Error()})
	logGap(intent, gap)
	monitoring.TrackTicketOperation(string(intent.Op), "gap")
	return gap
}

func (s *TicketService) advance(ctx context.Context, intent *models.LedgerIntent, to models.IntentStatus, update IntentUpdate) {
	if err := s.intents.Advance(ctx, intent.ID, to, update); err != nil {
		slog.Error("Failed to advance ledger intent",
			"intent_id", intent.ID,
			"op", intent.Op,
			"status", to,
			"ticket_id", firstNonEmpty(update.TicketID, intent.TicketID),
			"token_id", firstNonEmpty(update.TokenID, intent.TokenID),
			"tx_hash", firstNonEmpty(update.TxHash, intent.TxHash),
			"error", err,
		)
		return
	}
	intent.Status = to
	if update.TicketID != "" {
		intent.TicketID = update.TicketID
	}
	if update.TokenID != "" {
		intent.TokenID = update.TokenID
	}
	if update.TxHash != "" {
		intent.TxHash = update.TxHash
	}
}

func (s *TicketService) notify(userID, kind string, ticket *models.Ticket) {
	if s.notifier == nil || userID == "" {
		return
	}
	s.notifier.Publish(userID, kind, map[string]any{
		"ticket_id": ticket.ID,
		"nft_id":    ticket.NFTID,
		"event_id":  ticket.EventID,
	})
}

func logGap(intent *models.LedgerIntent, gap *status.GapError) {
	slog.Error("Ledger and store diverged",
		"intent_id", intent.ID,
		"op", gap.Op,
		"ticket_id", gap.TicketID,
		"token_id", gap.TokenID,
		"tx_hash", gap.TxHash,
		"error", gap.Err,
	)
}

func logLedgerError(op string, ticket *models.Ticket, txHash string, err error) {
	slog.Error("Ledger call failed", "op", op, "ticket_id", ticket.ID, "token_id", ticket.NFTID, "tx_hash", txHash, "error", err)
}

func attachTicket(err error, ticketID string) error {
	var gap *status.GapError
	if errors.As(err, &gap) && gap.TicketID == "" {
		gap.TicketID = ticketID
	}
	return err
}

func checkMetadataKeys(extra map[string]any) error {
	for k := range extra {
		if immutableMetadata[k] {
			return status.Validation("metadata key %q cannot be changed", k)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
