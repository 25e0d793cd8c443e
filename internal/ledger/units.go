package ledger

import (
	"math/big"

	"ticket-ledger/internal/status"

	"github.com/shopspring/decimal"
)

// WeiDecimals is the number of decimal places between the display unit and
// the ledger's smallest unit.
const WeiDecimals = 18

// ToWei converts a decimal display amount into the ledger's smallest unit.
// Amounts with more precision than the ledger can carry are rejected
// rather than rounded.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, status.Validation("amount %s is negative", amount)
	}
	wei := amount.Shift(WeiDecimals)
	if !wei.IsInteger() {
		return nil, status.Validation("amount %s has more than %d decimal places", amount, WeiDecimals)
	}
	return wei.BigInt(), nil
}

func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -WeiDecimals)
}

// ParseTokenID parses a decimal token id as stored off-chain.
func ParseTokenID(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || id.Sign() < 0 {
		return nil, status.Validation("token id %q is not a non-negative integer", tokenID)
	}
	return id, nil
}
