package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"ticket-ledger/internal/services"
	"ticket-ledger/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

// errorResponse maps a service error to a status code and body. Effects
// that already happened are reported back so the caller knows what to expect.
func errorResponse(err error, out *services.Outcome) (int, map[string]any) {
	data := map[string]any{}
	if out != nil && len(out.Effects) > 0 {
		data["effects"] = out.Effects
	}

	code := http.StatusInternalServerError
	message := "Something went wrong while processing your request."

	var gap *status.GapError
	switch {
	case errors.As(err, &gap):
		message = "The ledger may have applied this change; it will be reconciled."
		data["ticket_id"] = gap.TicketID
		data["token_id"] = gap.TokenID
		data["tx_hash"] = gap.TxHash
	case errors.Is(err, status.ErrValidation):
		code, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, status.ErrNotFound):
		code, message = http.StatusNotFound, err.Error()
	case errors.Is(err, status.ErrUnauthorized):
		code, message = http.StatusForbidden, err.Error()
	case errors.Is(err, status.ErrConflict):
		code, message = http.StatusConflict, err.Error()
	case errors.Is(err, status.ErrLedgerCall):
		// Node and revert messages stay in the log.
		code, message = http.StatusBadGateway, "The ledger could not process this request."
		slog.Warn("Ledger call failed", "error", err)
	default:
		slog.Error("Unhandled service error", "error", err)
	}

	return code, map[string]any{
		"status":  code,
		"message": message,
		"data":    data,
	}
}

func writeError(e *core.RequestEvent, err error, out *services.Outcome) error {
	code, body := errorResponse(err, out)
	return e.JSON(code, body)
}
