package handlers

import (
	"ticket-ledger/internal/guard"
	"ticket-ledger/internal/store"

	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// principal builds the caller's authorization context from the auth record.
func principal(e *core.RequestEvent) (guard.Principal, error) {
	if e.Auth == nil || e.Auth.Collection().Name != store.CollectionUsers {
		return guard.Principal{}, apis.NewUnauthorizedError("Unauthorized", nil)
	}
	p := guard.NewPrincipal(store.UserFromRecord(e.Auth))
	if !p.Valid() {
		return guard.Principal{}, apis.NewForbiddenError("Account has no valid role", nil)
	}
	return p, nil
}

// RequestID tags each request with an id that is echoed in the response and
// stored on any ledger intent the request starts.
func RequestID(e *core.RequestEvent) error {
	id := e.Request.Header.Get("X-Request-Id")
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	e.Response.Header().Set("X-Request-Id", id)
	e.Request = e.Request.WithContext(store.WithRequestID(e.Request.Context(), id))
	return e.Next()
}
