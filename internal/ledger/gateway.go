package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"ticket-ledger/internal/status"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
)

// Node is the part of the ledger client the gateway talks to.
// *ethclient.Client satisfies it.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Signer signs transactions for one wallet.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type Config struct {
	Contract       common.Address
	ChainID        *big.Int
	AcceptTimeout  time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	Breaker        utils.BreakerSettings
}

type Gateway struct {
	node     Node
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	breaker  *utils.CircuitBreaker

	acceptTimeout  time.Duration
	receiptTimeout time.Duration
	pollInterval   time.Duration
}

func NewGateway(node Node, cfg Config) (*Gateway, error) {
	parsed, err := parseTicketABI()
	if err != nil {
		return nil, fmt.Errorf("parsing ticket contract ABI: %w", err)
	}
	if cfg.ChainID == nil {
		return nil, errors.New("ledger: chain id is required")
	}

	breakerSettings := cfg.Breaker
	if breakerSettings.MinRequests == 0 {
		breakerSettings = utils.DefaultBreakerSettings()
	}
	// Reverts are the contract answering, not the node failing.
	breakerSettings.IsFailure = func(err error) bool {
		return err != nil && !isRejection(err)
	}

	g := &Gateway{
		node:           node,
		abi:            parsed,
		contract:       cfg.Contract,
		chainID:        cfg.ChainID,
		breaker:        utils.NewCircuitBreaker("ledger-node", breakerSettings),
		acceptTimeout:  cfg.AcceptTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if g.acceptTimeout <= 0 {
		g.acceptTimeout = 30 * time.Second
	}
	if g.receiptTimeout <= 0 {
		g.receiptTimeout = 2 * time.Minute
	}
	if g.pollInterval <= 0 {
		g.pollInterval = time.Second
	}
	return g, nil
}

type MintResult struct {
	TokenID string
	TxHash  string
}

// Mint mints a ticket token and waits for the receipt to learn its id.
func (g *Gateway) Mint(ctx context.Context, from Signer, tokenURI string, price decimal.Decimal, eventID, venueID string) (MintResult, error) {
	priceWei, err := ToWei(price)
	if err != nil {
		return MintResult{}, err
	}

	data, err := g.abi.Pack(methodMint, tokenURI, priceWei, eventID, venueID)
	if err != nil {
		return MintResult{}, status.Validation("packing %s: %v", methodMint, err)
	}

	txHash, err := g.send(ctx, methodMint, from, data, nil)
	if err != nil {
		return MintResult{}, err
	}

	receipt, err := g.waitReceipt(ctx, methodMint, txHash)
	if err != nil {
		return MintResult{TxHash: txHash.Hex()}, err
	}

	tokenID, err := g.mintedTokenID(receipt)
	if err != nil {
		return MintResult{TxHash: txHash.Hex()}, status.Gap(methodMint, "", "", txHash.Hex(), err)
	}
	return MintResult{TokenID: tokenID, TxHash: txHash.Hex()}, nil
}

// Purchase pays value to buy tokenID. It returns once the node accepts the
// transaction.
func (g *Gateway) Purchase(ctx context.Context, from Signer, tokenID string, value decimal.Decimal) (string, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	valueWei, err := ToWei(value)
	if err != nil {
		return "", err
	}

	data, err := g.abi.Pack(methodBuy, id)
	if err != nil {
		return "", status.Validation("packing %s: %v", methodBuy, err)
	}

	txHash, err := g.send(ctx, methodBuy, from, data, valueWei)
	if err != nil {
		return "", withToken(err, tokenID)
	}
	return txHash.Hex(), nil
}

// SetRedemptionHash stores the one-way hash of a redemption code on the
// token. It returns once the node accepts the transaction.
func (g *Gateway) SetRedemptionHash(ctx context.Context, from Signer, tokenID, hash string) (string, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return "", err
	}

	data, err := g.abi.Pack(methodSetHash, id, hash)
	if err != nil {
		return "", status.Validation("packing %s: %v", methodSetHash, err)
	}

	txHash, err := g.send(ctx, methodSetHash, from, data, nil)
	if err != nil {
		return "", withToken(err, tokenID)
	}
	return txHash.Hex(), nil
}

// Burn submits the redemption code for tokenID. The contract checks the
// code against the stored hash; a wrong code fails at gas estimation.
// Burn waits for the receipt so callers only flag a ticket used once the
// token is gone.
func (g *Gateway) Burn(ctx context.Context, from Signer, tokenID, otp string) (string, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return "", err
	}

	data, err := g.abi.Pack(methodBurn, id, otp)
	if err != nil {
		return "", status.Validation("packing %s: %v", methodBurn, err)
	}

	txHash, err := g.send(ctx, methodBurn, from, data, nil)
	if err != nil {
		return "", withToken(err, tokenID)
	}

	if _, err := g.waitReceipt(ctx, methodBurn, txHash); err != nil {
		return txHash.Hex(), withToken(err, tokenID)
	}
	return txHash.Hex(), nil
}

// Health checks that the node answers and serves the configured chain.
func (g *Gateway) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.acceptTimeout)
	defer cancel()

	id, err := g.node.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("ledger node unreachable: %w", err)
	}
	if id.Cmp(g.chainID) != 0 {
		return fmt.Errorf("ledger node serves chain %s, expected %s", id, g.chainID)
	}
	return nil
}

func (g *Gateway) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, status.Validation("address %q is malformed", address)
	}

	var balance *big.Int
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		balance, err = g.node.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		return nil, status.LedgerCall("balance", err)
	}
	return balance, nil
}

// OwnerOf returns the current holder of tokenID. exists is false only when
// the call reverts, which is how burned tokens answer. Any other node error
// says nothing about the token and is returned.
func (g *Gateway) OwnerOf(ctx context.Context, tokenID string) (owner common.Address, exists bool, err error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return common.Address{}, false, err
	}
	data, err := g.abi.Pack(methodOwnerOf, id)
	if err != nil {
		return common.Address{}, false, status.Validation("packing %s: %v", methodOwnerOf, err)
	}

	var out []byte
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.node.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
		return err
	})
	if err != nil {
		if isRevert(err) {
			return common.Address{}, false, nil
		}
		return common.Address{}, false, status.LedgerCall(methodOwnerOf, err)
	}

	values, err := g.abi.Unpack(methodOwnerOf, out)
	if err != nil || len(values) != 1 {
		return common.Address{}, false, status.LedgerCall(methodOwnerOf, fmt.Errorf("unexpected return data: %v", err))
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, false, status.LedgerCall(methodOwnerOf, errors.New("unexpected return type"))
	}
	return owner, true, nil
}

type TxState int

const (
	TxUnknown TxState = iota
	TxSucceeded
	TxReverted
)

// TxStatus looks up the receipt for a previously submitted transaction.
// TxUnknown covers both pending and never-seen transactions.
func (g *Gateway) TxStatus(ctx context.Context, txHash string) (TxState, *types.Receipt, error) {
	var receipt *types.Receipt
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = g.node.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(err, ethereum.NotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return TxUnknown, nil, status.LedgerCall("receipt", err)
	}
	if receipt == nil {
		return TxUnknown, nil, nil
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxSucceeded, receipt, nil
	}
	return TxReverted, receipt, nil
}

// MintedTokenID extracts the token id from a mint receipt.
func (g *Gateway) MintedTokenID(receipt *types.Receipt) (string, error) {
	return g.mintedTokenID(receipt)
}

func (g *Gateway) mintedTokenID(receipt *types.Receipt) (string, error) {
	event, ok := g.abi.Events[eventMinted]
	if !ok {
		return "", fmt.Errorf("%s event missing from ABI", eventMinted)
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != g.contract || len(l.Topics) < 2 {
			continue
		}
		if l.Topics[0] == event.ID {
			return l.Topics[1].Big().String(), nil
		}
	}
	return "", fmt.Errorf("receipt %s has no %s event", receipt.TxHash.Hex(), eventMinted)
}

// send estimates gas for the exact call, adds a 10% margin, signs and
// submits. Failures before submission are definite. A timeout or transport
// error while submitting means the node may or may not have the
// transaction, which is reported as a reconciliation gap.
func (g *Gateway) send(ctx context.Context, op string, from Signer, data []byte, value *big.Int) (common.Hash, error) {
	start := time.Now()

	if value == nil {
		value = new(big.Int)
	}
	msg := ethereum.CallMsg{
		From:  from.Address(),
		To:    &g.contract,
		Value: value,
		Data:  data,
	}

	var (
		gasLimit uint64
		gasPrice *big.Int
		nonce    uint64
	)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		estimate, err := g.node.EstimateGas(ctx, msg)
		if err != nil {
			return err
		}
		gasLimit = withMargin(estimate)

		if gasPrice, err = g.node.SuggestGasPrice(ctx); err != nil {
			return err
		}
		nonce, err = g.node.PendingNonceAt(ctx, msg.From)
		return err
	})
	if err != nil {
		monitoring.TrackLedgerCall(op, "rejected", time.Since(start))
		return common.Hash{}, status.LedgerCall(op, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &g.contract,
		Value:    value,
		Data:     data,
	})
	signed, err := from.SignTx(tx, g.chainID)
	if err != nil {
		monitoring.TrackLedgerCall(op, "rejected", time.Since(start))
		return common.Hash{}, status.LedgerCall(op, fmt.Errorf("signing: %w", err))
	}
	txHash := signed.Hash()

	sendCtx, cancel := context.WithTimeout(ctx, g.acceptTimeout)
	defer cancel()

	err = g.breaker.Execute(sendCtx, func(ctx context.Context) error {
		return g.node.SendTransaction(ctx, signed)
	})
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests), isRejection(err):
		monitoring.TrackLedgerCall(op, "rejected", time.Since(start))
		return common.Hash{}, status.LedgerCall(op, err)
	default:
		monitoring.TrackLedgerCall(op, "unknown", time.Since(start))
		slog.Error("Ledger submission outcome unknown", "op", op, "tx_hash", txHash.Hex(), "from", msg.From.Hex(), "error", err)
		return txHash, status.Gap(op, "", "", txHash.Hex(), err)
	}

	monitoring.TrackLedgerCall(op, "accepted", time.Since(start))
	slog.Info("Ledger transaction accepted", "op", op, "tx_hash", txHash.Hex(), "from", msg.From.Hex(), "gas", gasLimit)
	return txHash, nil
}

// waitReceipt polls for the receipt until receiptTimeout. A reverted
// receipt is a definite failure; running out of time is not.
func (g *Gateway) waitReceipt(ctx context.Context, op string, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.node.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, status.LedgerCall(op, fmt.Errorf("transaction %s reverted", txHash.Hex()))
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			slog.Warn("Receipt lookup failed", "op", op, "tx_hash", txHash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, status.Gap(op, "", "", txHash.Hex(), fmt.Errorf("waiting for receipt: %w", ctx.Err()))
		case <-ticker.C:
		}
	}
}

// JSON-RPC error code nodes use for execution reverts.
const revertErrorCode = 3

func withMargin(estimate uint64) uint64 {
	return estimate + estimate/10
}

// isRejection reports whether err is an explicit error answer from the
// node, such as a revert or an invalid transaction.
func isRejection(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// isRevert reports whether err is the contract reverting the call, as
// opposed to the node failing to answer it.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func withToken(err error, tokenID string) error {
	var gap *status.GapError
	if errors.As(err, &gap) && gap.TokenID == "" {
		gap.TokenID = tokenID
	}
	return err
}
