package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go-storefront/internal/model"
	"go-storefront/pkg/apierror"
)

const maxBodyBytes = 1 << 20

func writeSuccess(w http.ResponseWriter, status int, message string, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	case errors.Is(err, model.ErrLoginFailed):
		body.Code = "LOGIN_FAILED"
		body.Message = "Error logging in"
		slog.Error("login failed", "error", err)
	case errors.Is(err, model.ErrRefreshFailed):
		body.Code = "REFRESH_FAILED"
		body.Message = "Error refreshing token"
		slog.Error("refresh failed", "error", err)
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
		body.Details = strings.TrimPrefix(err.Error(), model.ErrInvalidInput.Error()+": ")
	case errors.Is(err, model.ErrInvalidCredentials):
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Invalid credentials"
	case errors.Is(err, model.ErrNoRolesAssigned):
		status = http.StatusUnauthorized
		body.Code = "NO_ROLES"
		body.Message = "User does not have any roles assigned"
	case errors.Is(err, model.ErrTokenExpired):
		status = http.StatusUnauthorized
		body.Code = "TOKEN_EXPIRED"
		body.Message = "Token expired"
	case errors.Is(err, model.ErrTokenRevoked):
		status = http.StatusUnauthorized
		body.Code = "TOKEN_REVOKED"
		body.Message = "Token has been revoked"
	case errors.Is(err, model.ErrInvalidRefreshToken), errors.Is(err, model.ErrTokenNotFound):
		status = http.StatusUnauthorized
		body.Code = "INVALID_TOKEN"
		body.Message = "Invalid refresh token"
	case errors.Is(err, model.ErrInvalidAccessToken):
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Invalid token"
	case errors.Is(err, model.ErrUsernameTaken):
		status = http.StatusBadRequest
		body.Code = "USERNAME_TAKEN"
		body.Message = "Username already exists"
	case errors.Is(err, model.ErrEmailTaken):
		status = http.StatusBadRequest
		body.Code = "EMAIL_TAKEN"
		body.Message = "Email already exists"
	case errors.Is(err, model.ErrUnknownRole):
		status = http.StatusBadRequest
		body.Code = "UNKNOWN_ROLE"
		body.Message = "Role does not exist"
	case errors.Is(err, model.ErrNoActiveSession):
		status = http.StatusBadRequest
		body.Code = "NO_ACTIVE_SESSION"
		body.Message = "No active login session found for this user"
	case errors.Is(err, model.ErrUserNotFound):
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "User not found"
	default:
		// Log unclassified errors so they are visible in container logs.
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return apierror.BadRequest("invalid JSON body", "")
	}
	return nil
}

func requiredQuery(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return "", apierror.BadRequest(name+" is required", name)
	}
	return value, nil
}

func optionalInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, apierror.BadRequest(name+" must be a positive integer", name)
	}
	return value, nil
}
