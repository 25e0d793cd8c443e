package models

type Role string

const (
	RoleBuyer        Role = "buyer"
	RoleSeller       Role = "seller"
	RoleVenueManager Role = "venueManager"
	RoleVerifier     Role = "verifier"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleVenueManager, RoleVerifier:
		return true
	}
	return false
}

// HasWallet reports whether the role signs ledger transactions.
func (r Role) HasWallet() bool {
	return r == RoleBuyer || r == RoleSeller
}

type Wallet struct {
	Address      string `json:"address"`
	EncryptedKey string `json:"-"`
}

func (w *Wallet) IsSet() bool {
	return w != nil && w.Address != "" && w.EncryptedKey != ""
}

type User struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Role         Role    `json:"role"`
	BuyerWallet  *Wallet `json:"buyer_wallet,omitempty"`
	SellerWallet *Wallet `json:"seller_wallet,omitempty"`
	CreatedBy    string  `json:"created_by,omitempty"`
}

// WalletFor returns the wallet slot for role, or nil when the role has no
// slot or the slot is still empty.
func (u *User) WalletFor(role Role) *Wallet {
	var w *Wallet
	switch role {
	case RoleBuyer:
		w = u.BuyerWallet
	case RoleSeller:
		w = u.SellerWallet
	}
	if !w.IsSet() {
		return nil
	}
	return w
}

// CurrentWallet is the wallet presented for the user's active role.
func (u *User) CurrentWallet() *Wallet {
	return u.WalletFor(u.Role)
}
