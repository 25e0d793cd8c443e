package handlers

import (
	"net/http"

	"ticket-ledger/internal/services"

	"github.com/pocketbase/pocketbase/core"
)

type EventHandler struct {
	catalog *services.CatalogService
}

func NewEventHandler(catalog *services.CatalogService) *EventHandler {
	return &EventHandler{catalog: catalog}
}

func (h *EventHandler) CancelEvent(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	out, err := h.catalog.CancelEvent(e.Request.Context(), p, e.Request.PathValue("id"))
	if err != nil {
		return writeError(e, err, out)
	}
	return e.JSON(http.StatusOK, out)
}

func (h *EventHandler) AddVerifier(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	event, err := h.catalog.AddVerifier(e.Request.Context(), p, e.Request.PathValue("id"), e.Request.PathValue("verifierId"))
	if err != nil {
		return writeError(e, err, nil)
	}
	return e.JSON(http.StatusOK, event)
}

func (h *EventHandler) RemoveVerifier(e *core.RequestEvent) error {
	p, err := principal(e)
	if err != nil {
		return err
	}

	event, err := h.catalog.RemoveVerifier(e.Request.Context(), p, e.Request.PathValue("id"), e.Request.PathValue("verifierId"))
	if err != nil {
		return writeError(e, err, nil)
	}
	return e.JSON(http.StatusOK, event)
}
