package status

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation: invalid request")
	ErrNotFound          = errors.New("not found: resource does not exist")
	ErrUnauthorized      = errors.New("authorization: not permitted")
	ErrConflict          = errors.New("conflict: state does not allow operation")
	ErrLedgerCall        = errors.New("ledger: call failed")
	ErrReconciliationGap = errors.New("ledger: status unknown, needs reconciliation")
	ErrWalletProvision   = errors.New("wallet: provisioning failed")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// LedgerCall wraps a failure returned by the node before it accepted the
// transaction.
func LedgerCall(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerCall, op, err)
}

func WalletProvision(err error) error {
	return fmt.Errorf("%w: %w", ErrWalletProvision, err)
}

// GapError reports that the ledger and the store may disagree. It carries
// everything an operator needs to reconcile the two by hand.
type GapError struct {
	Op       string
	TicketID string
	TokenID  string
	TxHash   string
	Err      error
}

func Gap(op, ticketID, tokenID, txHash string, err error) *GapError {
	return &GapError{Op: op, TicketID: ticketID, TokenID: tokenID, TxHash: txHash, Err: err}
}

func (e *GapError) Error() string {
	msg := fmt.Sprintf("%s: op=%s ticket=%s token=%s tx=%s",
		ErrReconciliationGap.Error(), e.Op, e.TicketID, e.TokenID, e.TxHash)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GapError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrReconciliationGap}
	}
	return []error{ErrReconciliationGap, e.Err}
}
