package services

import (
	"context"
	"log/slog"

	"ticket-ledger/internal/guard"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

type AccountService struct {
	users UserStore
	keys  Keyring
}

func NewAccountService(users UserStore, keys Keyring) *AccountService {
	return &AccountService{users: users, keys: keys}
}

// EnsureWallet returns the user's wallet for role, provisioning it on first
// use. A slot that is already filled is never replaced; if two requests race,
// the one that lands first wins and the other key is discarded.
func (s *AccountService) EnsureWallet(ctx context.Context, userID string, role models.Role) (*models.Wallet, bool, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if w := user.WalletFor(role); w != nil {
		return w, false, nil
	}

	w, err := s.keys.ProvisionWallet(role)
	if err != nil {
		slog.Error("Failed to provision wallet", "user_id", userID, "role", role, "error", err)
		return nil, false, err
	}

	set, err := s.users.SetWalletIfEmpty(ctx, userID, role, w)
	if err != nil {
		return nil, false, err
	}
	if set {
		slog.Info("Provisioned wallet", "user_id", userID, "role", role, "address", w.Address)
		return w, true, nil
	}

	user, err = s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if existing := user.WalletFor(role); existing != nil {
		return existing, false, nil
	}
	return nil, false, status.Conflict("%s wallet slot changed concurrently", role)
}

// RegisterRole opens the other trading profile for a buyer or seller.
func (s *AccountService) RegisterRole(ctx context.Context, p guard.Principal, role models.Role) (*models.Wallet, *Outcome, error) {
	if err := guard.CanRegisterRole(p, role); err != nil {
		return nil, nil, err
	}

	out := &Outcome{}
	w, created, err := s.EnsureWallet(ctx, p.UserID, role)
	if err != nil {
		return nil, out, err
	}
	if created {
		out.add(EffectWalletProvisioned, string(role), "")
	}
	return w, out, nil
}

// SwitchRole persists the new active role and returns the caller's new
// authorization context. The wallet of the previous role is kept.
func (s *AccountService) SwitchRole(ctx context.Context, p guard.Principal, target models.Role) (guard.Principal, *Outcome, error) {
	if err := guard.CanSwitchRole(p, target); err != nil {
		return guard.Principal{}, nil, err
	}

	out := &Outcome{}
	w, created, err := s.EnsureWallet(ctx, p.UserID, target)
	if err != nil {
		return guard.Principal{}, out, err
	}
	if created {
		out.add(EffectWalletProvisioned, string(target), "")
	}

	if err := s.users.SetRole(ctx, p.UserID, target); err != nil {
		return guard.Principal{}, out, err
	}
	out.add(EffectRoleSwitched, string(target), "")

	return guard.Principal{
		UserID:    p.UserID,
		Role:      target,
		CreatedBy: p.CreatedBy,
		Wallet:    w.Address,
	}, out, nil
}

func (s *AccountService) CurrentWallet(ctx context.Context, p guard.Principal) (*models.Wallet, error) {
	if !p.Valid() {
		return nil, status.Unauthorized("unknown caller")
	}
	if !p.Role.HasWallet() {
		return nil, status.Validation("role %s does not hold a wallet", p.Role)
	}
	w, _, err := s.EnsureWallet(ctx, p.UserID, p.Role)
	return w, err
}
