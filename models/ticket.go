package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Ticket struct {
	ID        string          `json:"id"`
	NFTID     string          `json:"nft_id"`
	WalletID  string          `json:"wallet_id"`
	Sold      bool            `json:"sold"`
	Used      bool            `json:"used"`
	EventID   string          `json:"event_id"`
	VenueID   string          `json:"venue_id"`
	CreatedBy string          `json:"created_by"`
	BoughtBy  string          `json:"bought_by,omitempty"`
	ClaimedBy string          `json:"-"`
	Price     decimal.Decimal `json:"price"`
	Metadata  TicketMetadata  `json:"metadata"`
	Created   time.Time       `json:"created"`
	Updated   time.Time       `json:"updated"`
}

// TicketMetadata holds the mint proof plus free-form descriptive fields.
// TokenURI and TxHash are fixed at mint.
type TicketMetadata struct {
	TokenURI string         `json:"token_uri"`
	TxHash   string         `json:"tx_hash"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type TicketState string

const (
	TicketCreated  TicketState = "created"
	TicketSold     TicketState = "sold"
	TicketRedeemed TicketState = "redeemed"
)

func (t *Ticket) State() TicketState {
	switch {
	case t.Used:
		return TicketRedeemed
	case t.Sold:
		return TicketSold
	default:
		return TicketCreated
	}
}

// IsOwnedBy reports whether userID bought the ticket.
func (t *Ticket) IsOwnedBy(userID string) bool {
	return userID != "" && t.Sold && t.BoughtBy == userID
}

// Claimable reports whether a buyer may start paying for the ticket.
func (t *Ticket) Claimable() bool {
	return !t.Sold && t.ClaimedBy == ""
}

type TicketScope string

const (
	ScopeCreated TicketScope = "seller"
	ScopeBought  TicketScope = "buyer"
	ScopeAll     TicketScope = ""
)
