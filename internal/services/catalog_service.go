package services

import (
	"context"
	"slices"

	"ticket-ledger/internal/guard"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

// CatalogService covers the event operations that touch ticketing rules.
// Plain CRUD on events and venues goes through the record API.
type CatalogService struct {
	catalog CatalogStore
	users   UserStore
}

func NewCatalogService(catalog CatalogStore, users UserStore) *CatalogService {
	return &CatalogService{catalog: catalog, users: users}
}

// CancelEvent marks the event expired. Expiry is one-way.
func (s *CatalogService) CancelEvent(ctx context.Context, p guard.Principal, eventID string) (*Outcome, error) {
	out := &Outcome{}

	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return out, err
	}
	if err := guard.CanManageEvent(p, event); err != nil {
		return out, err
	}
	if event.Expired {
		return out, nil
	}
	if err := s.catalog.MarkEventExpired(ctx, event.ID); err != nil {
		return out, err
	}
	out.add(EffectEventUpdated, event.ID, "")
	return out, nil
}

func (s *CatalogService) AddVerifier(ctx context.Context, p guard.Principal, eventID, verifierID string) (*models.Event, error) {
	event, verifier, err := s.loadForAssignment(ctx, eventID, verifierID)
	if err != nil {
		return nil, err
	}
	if err := guard.CanAssignVerifier(p, event, verifier); err != nil {
		return nil, err
	}
	if event.HasVerifier(verifier.ID) {
		return event, nil
	}

	verifiers := append(slices.Clone(event.Verifiers), verifier.ID)
	if err := s.catalog.SetEventVerifiers(ctx, event.ID, verifiers); err != nil {
		return nil, err
	}
	event.Verifiers = verifiers
	return event, nil
}

func (s *CatalogService) RemoveVerifier(ctx context.Context, p guard.Principal, eventID, verifierID string) (*models.Event, error) {
	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := guard.CanManageEvent(p, event); err != nil {
		return nil, err
	}
	if !event.HasVerifier(verifierID) {
		return nil, status.NotFound("verifier %s is not assigned to event %s", verifierID, eventID)
	}

	verifiers := slices.DeleteFunc(slices.Clone(event.Verifiers), func(id string) bool { return id == verifierID })
	if err := s.catalog.SetEventVerifiers(ctx, event.ID, verifiers); err != nil {
		return nil, err
	}
	event.Verifiers = verifiers
	return event, nil
}

func (s *CatalogService) loadForAssignment(ctx context.Context, eventID, verifierID string) (*models.Event, *models.User, error) {
	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := s.users.GetUser(ctx, verifierID)
	if err != nil {
		return nil, nil, err
	}
	return event, verifier, nil
}
