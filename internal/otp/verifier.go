package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math/big"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// Ledger is the part of the gateway that holds and checks redemption hashes.
type Ledger interface {
	SetRedemptionHash(ctx context.Context, from ledger.Signer, tokenID, hash string) (string, error)
	Burn(ctx context.Context, from ledger.Signer, tokenID, otp string) (string, error)
}

// Verifier issues redemption codes and redeems them. The hash on the ledger
// decides; the stored plaintext only lets holders look their code up again.
type Verifier struct {
	ledger   Ledger
	store    Store
	expiry   time.Duration
	now      func() time.Time
	generate func() (string, error)
}

func NewVerifier(l Ledger, store Store, expiry time.Duration) *Verifier {
	return &Verifier{
		ledger:   l,
		store:    store,
		expiry:   expiry,
		now:      time.Now,
		generate: GenerateCode,
	}
}

type Prepared struct {
	Code     string
	TxHash   string
	IssuedAt time.Time
	Expires  time.Time
}

// Prepare issues a fresh code for the token, replacing any outstanding one.
func (v *Verifier) Prepare(ctx context.Context, ticketID, tokenID string, from ledger.Signer) (*Prepared, error) {
	code, err := v.generate()
	if err != nil {
		return nil, err
	}

	txHash, err := v.ledger.SetRedemptionHash(ctx, from, tokenID, HashCode(code))
	if err != nil {
		return nil, err
	}

	issued := v.now()
	if err := v.store.Put(ctx, ticketID, Code{Code: code, IssuedAt: issued}); err != nil {
		// The hash is on the ledger, so the code works without the local copy.
		slog.Warn("Failed to keep redemption code", "ticket_id", ticketID, "token_id", tokenID, "error", err)
	}

	return &Prepared{
		Code:     code,
		TxHash:   txHash,
		IssuedAt: issued,
		Expires:  issued.Add(v.expiry),
	}, nil
}

// Consume burns the token with code. A locally held code past its expiry is
// refused without a ledger call; a missing local copy is left to the ledger.
func (v *Verifier) Consume(ctx context.Context, ticketID, tokenID, code string, from ledger.Signer) (string, error) {
	if !ValidCode(code) {
		return "", status.Validation("redemption code must be 6 digits")
	}

	held, err := v.store.Get(ctx, ticketID)
	if err != nil {
		slog.Warn("Failed to read redemption code", "ticket_id", ticketID, "error", err)
	}
	if held != nil && v.expiry > 0 && v.now().Sub(held.IssuedAt) > v.expiry {
		return "", status.Conflict("redemption code expired")
	}

	txHash, err := v.ledger.Burn(ctx, from, tokenID, code)
	if err != nil {
		return txHash, err
	}

	if err := v.store.Delete(ctx, ticketID); err != nil {
		slog.Warn("Failed to drop redemption code", "ticket_id", ticketID, "error", err)
	}
	return txHash, nil
}

// Lookup returns the locally held code for a ticket, if any and not expired.
func (v *Verifier) Lookup(ctx context.Context, ticketID string) (*Code, error) {
	held, err := v.store.Get(ctx, ticketID)
	if err != nil || held == nil {
		return nil, err
	}
	if v.expiry > 0 && v.now().Sub(held.IssuedAt) > v.expiry {
		return nil, nil
	}
	return held, nil
}

// GenerateCode draws a 6-digit code from a CSPRNG.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return n.Add(n, big.NewInt(codeMin)).String(), nil
}

func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func ValidCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
