package handler

import (
	"context"
	"net/http"
	"strings"

	"go-storefront/internal/middleware"
	"go-storefront/internal/model"
	"go-storefront/pkg/apierror"
)

type sessionService interface {
	Login(ctx context.Context, username string, password string) (model.LoginResult, error)
	Refresh(ctx context.Context, presented string) (model.RefreshResult, error)
	Logout(ctx context.Context, userID string) (model.SessionAudit, error)
}

type accountService interface {
	Register(ctx context.Context, req model.RegisterRequest) (model.AuthUser, error)
	Me(ctx context.Context, userID string) (model.AuthUser, error)
	DeleteUser(ctx context.Context, userID string) error
}

type AuthHandler struct {
	sessions sessionService
	accounts accountService
}

func NewAuthHandler(sessions sessionService, accounts accountService) *AuthHandler {
	return &AuthHandler{sessions: sessions, accounts: accounts}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "User registered successfully", user, nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	if strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		writeError(w, apierror.BadRequest("username and password are required", "username,password"))
		return
	}

	result, err := h.sessions.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Login successful", result, nil)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	payload.RefreshToken = strings.TrimSpace(payload.RefreshToken)
	if payload.RefreshToken == "" {
		writeError(w, apierror.BadRequest("refreshToken is required", "refreshToken"))
		return
	}

	result, err := h.sessions.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Token refreshed", result, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := requiredQuery(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.sessions.Logout(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Logout successful", entry, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized))
		return
	}

	user, err := h.accounts.Me(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", user, nil)
}
