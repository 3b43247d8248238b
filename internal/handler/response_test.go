package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-storefront/internal/model"
	"go-storefront/pkg/apierror"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) model.APIResponse {
	t.Helper()

	var resp model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		code    string
		message string
	}{
		{fmt.Errorf("%w: userId must be a UUID", model.ErrInvalidInput), http.StatusBadRequest, "BAD_REQUEST", "Invalid input"},
		{model.ErrInvalidCredentials, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials"},
		{model.ErrNoRolesAssigned, http.StatusUnauthorized, "NO_ROLES", "User does not have any roles assigned"},
		{model.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired"},
		{model.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked"},
		{model.ErrInvalidRefreshToken, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token"},
		{model.ErrUsernameTaken, http.StatusBadRequest, "USERNAME_TAKEN", "Username already exists"},
		{model.ErrEmailTaken, http.StatusBadRequest, "EMAIL_TAKEN", "Email already exists"},
		{model.ErrUnknownRole, http.StatusBadRequest, "UNKNOWN_ROLE", "Role does not exist"},
		{model.ErrNoActiveSession, http.StatusBadRequest, "NO_ACTIVE_SESSION", "No active login session found for this user"},
		{model.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
		{fmt.Errorf("%w: %w", model.ErrLoginFailed, errors.New("deadlock")), http.StatusInternalServerError, "LOGIN_FAILED", "Error logging in"},
		{fmt.Errorf("%w: %w", model.ErrRefreshFailed, model.ErrUserNotFound), http.StatusInternalServerError, "REFRESH_FAILED", "Error refreshing token"},
		{apierror.New("CUSTOM", "teapot", "", http.StatusTeapot), http.StatusTeapot, "CUSTOM", "teapot"},
		{errors.New("mystery"), http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, tc.message, resp.Error.Message)
		})
	}
}

func TestWriteErrorKeepsValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: email is not valid", model.ErrInvalidInput))

	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "email is not valid", resp.Error.Details)
}
