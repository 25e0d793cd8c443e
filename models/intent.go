package models

import "time"

type IntentOp string

const (
	OpMint     IntentOp = "mint"
	OpPurchase IntentOp = "purchase"
	OpRedeem   IntentOp = "burn"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSubmitted IntentStatus = "submitted"
	IntentConfirmed IntentStatus = "confirmed"
	IntentFailed    IntentStatus = "failed"
	IntentGap       IntentStatus = "gap"
	// IntentManual intents could not be settled from the ledger and wait for
	// an operator. The reconciler no longer picks them up.
	IntentManual IntentStatus = "manual"
)

// Open reports whether the reconciler still has to look at an intent.
func (s IntentStatus) Open() bool {
	return s == IntentPending || s == IntentSubmitted || s == IntentGap
}

// LedgerIntent is written before a ledger call and advanced after it, so a
// crash between the call and the store write leaves a trail.
type LedgerIntent struct {
	ID        string         `json:"id"`
	Op        IntentOp       `json:"op"`
	Status    IntentStatus   `json:"status"`
	TicketID  string         `json:"ticket_id"`
	ActorID   string         `json:"actor_id"`
	Wallet    string         `json:"wallet"`
	TokenID   string         `json:"token_id"`
	TxHash    string         `json:"tx_hash"`
	Payload   map[string]any `json:"payload"`
	Error     string         `json:"error"`
	RequestID string         `json:"request_id,omitempty"`
	Created   time.Time      `json:"created"`
	Updated   time.Time      `json:"updated"`
}
