package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keySize = chacha20poly1305.KeySize

var (
	hkdfInfoMaster = []byte("ticket-ledger.wallet.master.v1")
	hkdfInfoWallet = []byte("ticket-ledger.wallet.key.v1")
)

// Custody generates signing wallets and keeps their private keys sealed
// under a key derived from the server secret. Plaintext keys only exist
// inside ProvisionWallet and Signer.SignTx.
type Custody struct {
	masterKey []byte
	random    io.Reader
	generate  func() (*ecdsa.PrivateKey, error)
}

func New(secret string) (*Custody, error) {
	if len(secret) < 16 {
		return nil, errors.New("wallet: server secret must be at least 16 bytes")
	}
	masterKey, err := deriveKey([]byte(secret), hkdfInfoMaster)
	if err != nil {
		return nil, err
	}
	return &Custody{
		masterKey: masterKey,
		random:    rand.Reader,
		generate:  crypto.GenerateKey,
	}, nil
}

// ProvisionWallet creates a fresh key pair for role and returns its address
// with the sealed private key. Nothing is persisted here; on error the
// caller has nothing to store.
func (c *Custody) ProvisionWallet(role models.Role) (*models.Wallet, error) {
	if !role.HasWallet() {
		return nil, status.Validation("role %q does not hold a wallet", role)
	}

	key, err := c.generate()
	if err != nil {
		return nil, status.WalletProvision(fmt.Errorf("generating key: %w", err))
	}
	defer zeroKey(key)

	address := crypto.PubkeyToAddress(key.PublicKey)

	raw := crypto.FromECDSA(key)
	defer clear(raw)

	sealed, err := c.seal(raw, address)
	if err != nil {
		return nil, status.WalletProvision(err)
	}

	return &models.Wallet{Address: address.Hex(), EncryptedKey: sealed}, nil
}

// Signer returns a transaction signer bound to w. The sealed key is opened
// for each signature and wiped afterwards.
func (c *Custody) Signer(w *models.Wallet) (ledger.Signer, error) {
	if !w.IsSet() {
		return nil, status.Validation("wallet is not provisioned")
	}
	if !common.IsHexAddress(w.Address) {
		return nil, status.Validation("wallet address %q is malformed", w.Address)
	}
	return &Signer{
		custody: c,
		address: common.HexToAddress(w.Address),
		sealed:  w.EncryptedKey,
	}, nil
}

func (c *Custody) seal(raw []byte, address common.Address) (string, error) {
	key, err := c.walletKey(address)
	if err != nil {
		return "", err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("generating random nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, raw, buildAAD(envelopeVersion, address))
	return encodeEnvelope(envelope{
		Version:    envelopeVersion,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
}

func (c *Custody) open(sealed string, address common.Address) ([]byte, error) {
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("sealed key nonce is %d bytes, expected %d", len(env.Nonce), chacha20poly1305.NonceSizeX)
	}

	key, err := c.walletKey(address)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	raw, err := aead.Open(nil, env.Nonce, env.Ciphertext, buildAAD(env.Version, address))
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong secret, tampered data, or mismatched address): %w", err)
	}
	return raw, nil
}

// walletKey derives the per-wallet sealing key from the master key and the
// wallet address.
func (c *Custody) walletKey(address common.Address) ([]byte, error) {
	info := make([]byte, 0, len(hkdfInfoWallet)+common.AddressLength)
	info = append(info, hkdfInfoWallet...)
	info = append(info, address.Bytes()...)
	return deriveKey(c.masterKey, info)
}

func deriveKey(secret, info []byte) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

func buildAAD(version byte, address common.Address) []byte {
	aad := make([]byte, 0, 1+common.AddressLength)
	aad = append(aad, version)
	return append(aad, address.Bytes()...)
}

func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetUint64(0)
	}
}

type Signer struct {
	custody *Custody
	address common.Address
	sealed  string
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	raw, err := s.custody.open(s.sealed, s.address)
	if err != nil {
		return nil, err
	}
	defer clear(raw)

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}
	defer zeroKey(key)

	if got := crypto.PubkeyToAddress(key.PublicKey); got != s.address {
		return nil, fmt.Errorf("sealed key belongs to %s, not %s", got.Hex(), s.address.Hex())
	}

	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
