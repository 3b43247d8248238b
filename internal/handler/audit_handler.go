package handler

import (
	"context"
	"net/http"

	"go-storefront/internal/model"
)

type auditService interface {
	ListAudits(ctx context.Context, query model.AuditQuery) ([]model.SessionAudit, model.Meta, error)
	ListAuditsForUser(ctx context.Context, userID string) ([]model.SessionAudit, error)
}

type AuditHandler struct {
	service auditService
}

func NewAuditHandler(service auditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := optionalInt(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := optionalInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}

	items, meta, err := h.service.ListAudits(r.Context(), model.AuditQuery{Page: page, Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", model.AuditListData{Items: items}, &meta)
}

func (h *AuditHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := requiredQuery(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := h.service.ListAuditsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", model.AuditListData{Items: items}, nil)
}
