package handlers

import (
	"net/http"

	"ticket-ledger/internal/services"
	"ticket-ledger/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	tickets *services.TicketService
}

func NewTicketHandler(tickets *services.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

func (h *TicketHandler) CreateTicket(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	var req services.CreateTicketRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	out, err := h.tickets.CreateTicket(e.Request.Context(), p, req)
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusCreated, out)
}

func (h *TicketHandler) ListTickets(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	scope := models.TicketScope(e.Request.URL.Query().Get("scope"))
	tickets, err := h.tickets.ListTickets(e.Request.Context(), p, scope)
	if err != nil {
		return writeError(e, err, nil)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"tickets": tickets,
		"total":   len(tickets),
	})
}

func (h *TicketHandler) GetTicket(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	ticket, err := h.tickets.GetTicket(e.Request.Context(), p, e.Request.PathValue("id"))
	if err != nil {
		return writeError(e, err, nil)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) UpdateMetadata(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	out, err := h.tickets.UpdateTicketMetadata(e.Request.Context(), p, e.Request.PathValue("id"), req.Metadata)
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, out)
}

func (h *TicketHandler) CancelTicket(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	out, err := h.tickets.CancelTicket(e.Request.Context(), p, e.Request.PathValue("id"))
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, out)
}

func (h *TicketHandler) PurchaseTicket(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	var req struct {
		EventID string `json:"event_id"`
	}
	if e.Request.ContentLength > 0 {
		if err := e.BindBody(&req); err != nil {
			return apis.NewBadRequestError("Invalid request", err)
		}
	}

	out, err := h.tickets.PurchaseTicket(e.Request.Context(), p, e.Request.PathValue("id"), req.EventID)
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, out)
}

// PrepareRedemption returns the plaintext code once; the code is never logged.
func (h *TicketHandler) PrepareRedemption(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	out, err := h.tickets.PrepareRedemption(e.Request.Context(), p, e.Request.PathValue("id"))
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, out)
}

func (h *TicketHandler) RedeemTicket(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	var req struct {
		OTP string `json:"otp"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.OTP == "" {
		return apis.NewBadRequestError("otp is required", nil)
	}

	out, err := h.tickets.RedeemTicket(e.Request.Context(), p, e.Request.PathValue("id"), req.OTP)
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, out)
}

func (h *TicketHandler) ListRedeemed(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	tickets, err := h.tickets.ListRedeemed(e.Request.Context(), p)
	if err != nil {
		return writeError(e, err, nil)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"tickets": tickets,
		"total":   len(tickets),
	})
}
