package services

import (
	"context"
	"math/big"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/otp"
	"ticket-ledger/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

type TicketFilter struct {
	CreatedBy string
	BoughtBy  string
	// Party matches tickets the user either created or bought.
	Party    string
	UsedOnly bool
}

// TicketStore is the off-chain ticket record. The Claim/Mark methods are
// conditional updates and report false when the guard did not match.
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	FindByNFTID(ctx context.Context, nftID string) (*models.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error)
	CountEventTickets(ctx context.Context, eventID string) (int, error)
	CreateTicket(ctx context.Context, t *models.Ticket) error
	UpdateMetadata(ctx context.Context, id string, extra map[string]any) (bool, error)
	DeleteUnsold(ctx context.Context, id string) (bool, error)
	Claim(ctx context.Context, id, buyerID string) (bool, error)
	ReleaseClaim(ctx context.Context, id, buyerID string) error
	MarkSold(ctx context.Context, id, buyerID, wallet string) (bool, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	// SetWalletIfEmpty fills the role's wallet slot only when it is empty.
	SetWalletIfEmpty(ctx context.Context, userID string, role models.Role, w *models.Wallet) (bool, error)
	SetRole(ctx context.Context, userID string, role models.Role) error
}

type CatalogStore interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	MarkEventExpired(ctx context.Context, id string) error
	SetEventVerifiers(ctx context.Context, id string, verifiers []string) error
}

type IntentUpdate struct {
	TicketID string
	TokenID  string
	TxHash   string
	Error    string
}

type IntentLog interface {
	Begin(ctx context.Context, intent *models.LedgerIntent) error
	Advance(ctx context.Context, id string, to models.IntentStatus, update IntentUpdate) error
	Stale(ctx context.Context, before time.Time, limit int) ([]*models.LedgerIntent, error)
}

type Ledger interface {
	Mint(ctx context.Context, from ledger.Signer, tokenURI string, price decimal.Decimal, eventID, venueID string) (ledger.MintResult, error)
	Purchase(ctx context.Context, from ledger.Signer, tokenID string, value decimal.Decimal) (string, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// LedgerReader is what the reconciler needs to find out what really happened.
type LedgerReader interface {
	TxStatus(ctx context.Context, txHash string) (ledger.TxState, *types.Receipt, error)
	MintedTokenID(receipt *types.Receipt) (string, error)
	OwnerOf(ctx context.Context, tokenID string) (common.Address, bool, error)
}

type Redeemer interface {
	Prepare(ctx context.Context, ticketID, tokenID string, from ledger.Signer) (*otp.Prepared, error)
	Consume(ctx context.Context, ticketID, tokenID, code string, from ledger.Signer) (string, error)
}

type Keyring interface {
	ProvisionWallet(role models.Role) (*models.Wallet, error)
	Signer(w *models.Wallet) (ledger.Signer, error)
}

type Notifier interface {
	Publish(userID, kind string, payload map[string]any)
}

type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

type EffectKind string

const (
	EffectLedgerMint           EffectKind = "ledger.mint"
	EffectLedgerPurchase       EffectKind = "ledger.purchase"
	EffectLedgerRedemptionHash EffectKind = "ledger.set_redemption_hash"
	EffectLedgerBurn           EffectKind = "ledger.burn"
	EffectWalletProvisioned    EffectKind = "wallet.provisioned"
	EffectTicketCreated        EffectKind = "store.ticket_created"
	EffectTicketClaimed        EffectKind = "store.ticket_claimed"
	EffectClaimReleased        EffectKind = "store.claim_released"
	EffectTicketSold           EffectKind = "store.ticket_sold"
	EffectTicketUsed           EffectKind = "store.ticket_used"
	EffectTicketUpdated        EffectKind = "store.ticket_updated"
	EffectTicketDeleted        EffectKind = "store.ticket_deleted"
	EffectRoleSwitched         EffectKind = "store.role_switched"
	EffectEventUpdated         EffectKind = "store.event_updated"
)

type Effect struct {
	Kind   EffectKind `json:"kind"`
	Ref    string     `json:"ref,omitempty"`
	TxHash string     `json:"tx_hash,omitempty"`
}

// Outcome is what an operation did. On error Ticket is nil, but Effects
// still lists everything that happened before the failure.
type Outcome struct {
	Ticket    *models.Ticket `json:"ticket,omitempty"`
	Code      string         `json:"otp,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Effects   []Effect       `json:"effects"`
}

func (o *Outcome) add(kind EffectKind, ref, txHash string) {
	o.Effects = append(o.Effects, Effect{Kind: kind, Ref: ref, TxHash: txHash})
}
