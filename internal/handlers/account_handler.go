package handlers

import (
	"net/http"

	"ticket-ledger/internal/services"
	"ticket-ledger/models"

	"github.com/pocketbase/pocketbase/core"
)

type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) RegisterRole(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	role := models.Role(e.Request.PathValue("role"))
	w, out, err := h.accounts.RegisterRole(e.Request.Context(), p, role)
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"role":    role,
		"wallet":  w,
		"effects": out.Effects,
	})
}

func (h *AccountHandler) SwitchRole(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	next, out, err := h.accounts.SwitchRole(e.Request.Context(), p, models.Role(e.Request.PathValue("role")))
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"user_id": next.UserID,
		"role":    next.Role,
		"wallet":  next.Wallet,
		"effects": out.Effects,
	})
}

func (h *AccountHandler) CurrentWallet(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	w, err := h.accounts.CurrentWallet(e.Request.Context(), p)
	if err != nil {
		return writeError(e, err, nil)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"role":   p.Role,
		"wallet": w,
	})
}
