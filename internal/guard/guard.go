// Package guard holds the authorization rules for ticket operations. Every
// check is a pure function of the caller and the resource, and anything
// missing or malformed is refused.
package guard

import (
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

// Principal is the authenticated caller as seen by one request.
type Principal struct {
	UserID string
	Role   models.Role
	// CreatedBy is the seller that created a verifier account.
	CreatedBy string
	// Wallet is the address presented for Role, empty when not provisioned.
	Wallet string
}

func NewPrincipal(u *models.User) Principal {
	if u == nil {
		return Principal{}
	}
	p := Principal{UserID: u.ID, Role: u.Role, CreatedBy: u.CreatedBy}
	if w := u.CurrentWallet(); w != nil {
		p.Wallet = w.Address
	}
	return p
}

func (p Principal) Valid() bool {
	return p.UserID != "" && p.Role.Valid()
}

func (p Principal) Is(role models.Role) bool {
	return p.Valid() && p.Role == role
}

func deny(format string, args ...any) error {
	return status.Unauthorized(format, args...)
}

func CanMint(p Principal, event *models.Event) error {
	if !p.Is(models.RoleSeller) {
		return deny("only sellers can create tickets")
	}
	if event == nil || event.CreatedBy == "" || event.CreatedBy != p.UserID {
		return deny("tickets can only be created for your own events")
	}
	return nil
}

func CanPurchase(p Principal, t *models.Ticket) error {
	if !p.Is(models.RoleBuyer) {
		return deny("only buyers can purchase tickets")
	}
	if t == nil || t.CreatedBy == "" {
		return deny("ticket is not purchasable")
	}
	if t.CreatedBy == p.UserID {
		return deny("cannot purchase your own ticket")
	}
	return nil
}

// CanPrepareRedemption allows the holder, or a verifier acting for the
// seller that issued the ticket or assigned to its event.
func CanPrepareRedemption(p Principal, t *models.Ticket, event *models.Event) error {
	if !p.Valid() || t == nil {
		return deny("not authorized to prepare redemption")
	}
	switch p.Role {
	case models.RoleBuyer:
		if t.IsOwnedBy(p.UserID) {
			return nil
		}
	case models.RoleVerifier:
		if p.CreatedBy != "" && p.CreatedBy == t.CreatedBy {
			return nil
		}
		if event != nil && event.ID == t.EventID && event.HasVerifier(p.UserID) {
			return nil
		}
	}
	return deny("not authorized to prepare redemption")
}

func CanRedeem(p Principal, t *models.Ticket) error {
	if !p.Is(models.RoleBuyer) || t == nil || !t.IsOwnedBy(p.UserID) {
		return deny("not authorized to redeem this ticket")
	}
	return nil
}

// CanModifyTicket covers metadata edits and cancellation.
func CanModifyTicket(p Principal, t *models.Ticket) error {
	if !p.Is(models.RoleSeller) || t == nil || t.CreatedBy == "" || t.CreatedBy != p.UserID {
		return deny("only the creator can modify this ticket")
	}
	return nil
}

func CanView(p Principal, t *models.Ticket) error {
	if !p.Valid() || t == nil {
		return deny("not authorized to view this ticket")
	}
	if t.CreatedBy == p.UserID || t.IsOwnedBy(p.UserID) {
		return nil
	}
	if p.Role == models.RoleVerifier && p.CreatedBy != "" && p.CreatedBy == t.CreatedBy {
		return nil
	}
	return deny("not authorized to view this ticket")
}

func CanListRedeemed(p Principal) error {
	if p.Is(models.RoleBuyer) || p.Is(models.RoleVerifier) {
		return nil
	}
	return deny("not authorized to list redeemed tickets")
}

func CanManageEvent(p Principal, event *models.Event) error {
	if !p.Is(models.RoleSeller) || event == nil || event.CreatedBy == "" || event.CreatedBy != p.UserID {
		return deny("only the event creator can manage this event")
	}
	return nil
}

// CanAssignVerifier also checks that the verifier works for the caller.
func CanAssignVerifier(p Principal, event *models.Event, verifier *models.User) error {
	if err := CanManageEvent(p, event); err != nil {
		return err
	}
	if verifier == nil || verifier.Role != models.RoleVerifier || verifier.CreatedBy != p.UserID {
		return deny("verifier does not belong to you")
	}
	return nil
}

func CanManageVenue(p Principal, venue *models.Venue) error {
	if !p.Is(models.RoleVenueManager) || venue == nil || venue.CreatedBy == "" || venue.CreatedBy != p.UserID {
		return deny("only the venue manager can manage this venue")
	}
	return nil
}

func CanRegisterRole(p Principal, role models.Role) error {
	if !p.Valid() || !p.Role.HasWallet() || !role.HasWallet() {
		return deny("only buyers and sellers can open a %s profile", role)
	}
	return nil
}

func CanSwitchRole(p Principal, target models.Role) error {
	if err := CanRegisterRole(p, target); err != nil {
		return err
	}
	if p.Role == target {
		return status.Conflict("already acting as %s", target)
	}
	return nil
}
