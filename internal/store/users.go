package store

import (
	"context"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

type UserStore struct {
	app core.App
}

func NewUserStore(app core.App) *UserStore {
	return &UserStore{app: app}
}

func walletFields(role models.Role) (address, key string, ok bool) {
	switch role {
	case models.RoleBuyer:
		return "buyer_wallet_address", "buyer_wallet_key", true
	case models.RoleSeller:
		return "seller_wallet_address", "seller_wallet_key", true
	}
	return "", "", false
}

func (s *UserStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	record, err := s.app.FindRecordById(CollectionUsers, id)
	if err != nil {
		return nil, lookupErr(err, "user %s", id)
	}
	return UserFromRecord(record), nil
}

// SetWalletIfEmpty writes the wallet only while the role's address column is
// still blank, so an existing key is never replaced.
func (s *UserStore) SetWalletIfEmpty(ctx context.Context, userID string, role models.Role, w *models.Wallet) (bool, error) {
	addressField, keyField, ok := walletFields(role)
	if !ok {
		return false, status.Validation("role %s does not hold a wallet", role)
	}
	if !w.IsSet() {
		return false, status.Validation("wallet is incomplete")
	}

	return conditionalUpdate(s.app, CollectionUsers,
		dbx.Params{addressField: w.Address, keyField: w.EncryptedKey},
		dbx.HashExp{"id": userID, addressField: ""},
	)
}

func (s *UserStore) SetRole(ctx context.Context, userID string, role models.Role) error {
	record, err := s.app.FindRecordById(CollectionUsers, userID)
	if err != nil {
		return lookupErr(err, "user %s", userID)
	}
	record.Set("role", string(role))
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save role of user %s: %w", userID, err)
	}
	return nil
}

// UserFromRecord maps an auth record, including the sealed wallet keys.
func UserFromRecord(record *core.Record) *models.User {
	u := &models.User{
		ID:        record.Id,
		Email:     record.Email(),
		Role:      models.Role(record.GetString("role")),
		CreatedBy: record.GetString("created_by"),
	}
	for _, role := range []models.Role{models.RoleBuyer, models.RoleSeller} {
		addressField, keyField, _ := walletFields(role)
		w := &models.Wallet{
			Address:      record.GetString(addressField),
			EncryptedKey: record.GetString(keyField),
		}
		if !w.IsSet() {
			continue
		}
		if role == models.RoleBuyer {
			u.BuyerWallet = w
		} else {
			u.SellerWallet = w
		}
	}
	return u
}
