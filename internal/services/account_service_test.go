package services

import (
	"context"
	"errors"
	"testing"

	"ticket-ledger/internal/guard"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racingUsers lets another request fill the wallet slot just before ours.
type racingUsers struct {
	*memUsers
	winner *models.Wallet
}

func (r *racingUsers) SetWalletIfEmpty(ctx context.Context, userID string, role models.Role, w *models.Wallet) (bool, error) {
	if _, err := r.memUsers.SetWalletIfEmpty(ctx, userID, role, r.winner); err != nil {
		return false, err
	}
	return r.memUsers.SetWalletIfEmpty(ctx, userID, role, w)
}

func TestAccountService_EnsureWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, created, err := f.accounts.EnsureWallet(ctx, "buyer-1", models.RoleBuyer)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, w.IsSet())

	again, created, err := f.accounts.EnsureWallet(ctx, "buyer-1", models.RoleBuyer)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, w.Address, again.Address)

	_, _, err = f.accounts.EnsureWallet(ctx, "buyer-1", models.RoleVerifier)
	assert.True(t, errors.Is(err, status.ErrValidation))

	_, _, err = f.accounts.EnsureWallet(ctx, "nobody", models.RoleBuyer)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestAccountService_EnsureWalletLosesRace(t *testing.T) {
	f := newFixture(t)
	winner, err := f.custody.ProvisionWallet(models.RoleBuyer)
	require.NoError(t, err)

	accounts := NewAccountService(&racingUsers{memUsers: f.users, winner: winner}, f.custody)
	w, created, err := accounts.EnsureWallet(context.Background(), "buyer-1", models.RoleBuyer)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.Address, w.Address)
}

func TestAccountService_RegisterRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, out, err := f.accounts.RegisterRole(ctx, buyerP, models.RoleSeller)
	require.NoError(t, err)
	assert.True(t, w.IsSet())
	assert.Equal(t, []EffectKind{EffectWalletProvisioned}, effectKinds(out))

	user, err := f.users.GetUser(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, user.Role)
	assert.Equal(t, w.Address, user.SellerWallet.Address)

	_, out, err = f.accounts.RegisterRole(ctx, buyerP, models.RoleSeller)
	require.NoError(t, err)
	assert.Empty(t, out.Effects)

	_, _, err = f.accounts.RegisterRole(ctx, verifierP, models.RoleBuyer)
	assert.True(t, errors.Is(err, status.ErrUnauthorized))
}

func TestAccountService_SwitchRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sellerWallet := f.users.users["seller-1"].SellerWallet.Address

	p, out, err := f.accounts.SwitchRole(ctx, sellerP, models.RoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, p.Role)
	assert.Equal(t, "seller-1", p.UserID)
	assert.NotEqual(t, sellerWallet, p.Wallet)
	assert.Equal(t, []EffectKind{EffectWalletProvisioned, EffectRoleSwitched}, effectKinds(out))

	user, err := f.users.GetUser(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, user.Role)
	assert.Equal(t, sellerWallet, user.SellerWallet.Address)

	back, out, err := f.accounts.SwitchRole(ctx, p, models.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, sellerWallet, back.Wallet)
	assert.Equal(t, []EffectKind{EffectRoleSwitched}, effectKinds(out))

	_, _, err = f.accounts.SwitchRole(ctx, back, models.RoleSeller)
	assert.True(t, errors.Is(err, status.ErrConflict))

	_, _, err = f.accounts.SwitchRole(ctx, back, models.RoleVenueManager)
	assert.True(t, errors.Is(err, status.ErrUnauthorized))
}

func TestAccountService_CurrentWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.accounts.CurrentWallet(ctx, sellerP)
	require.NoError(t, err)
	assert.Equal(t, f.users.users["seller-1"].SellerWallet.Address, w.Address)

	_, err = f.accounts.CurrentWallet(ctx, verifierP)
	assert.True(t, errors.Is(err, status.ErrValidation))

	_, err = f.accounts.CurrentWallet(ctx, guard.Principal{})
	assert.True(t, errors.Is(err, status.ErrUnauthorized))
}
