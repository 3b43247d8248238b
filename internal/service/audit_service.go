package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"go-storefront/internal/model"
)

// AuditService is the admin read side of the session ledger.
type AuditService struct {
	audits AuditStore
}

func NewAuditService(audits AuditStore) *AuditService {
	return &AuditService{audits: audits}
}

func (s *AuditService) ListAudits(ctx context.Context, query model.AuditQuery) ([]model.SessionAudit, model.Meta, error) {
	entries, meta, err := s.audits.Query(ctx, query)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("list audits: %w", err)
	}
	if entries == nil {
		entries = []model.SessionAudit{}
	}
	return entries, meta, nil
}

func (s *AuditService) ListAuditsForUser(ctx context.Context, userID string) ([]model.SessionAudit, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: userId must be a UUID", model.ErrInvalidInput)
	}

	entries, err := s.audits.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list audits for user: %w", err)
	}
	if entries == nil {
		entries = []model.SessionAudit{}
	}
	return entries, nil
}
