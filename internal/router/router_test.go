package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-storefront/internal/config"
	"go-storefront/internal/handler"
	"go-storefront/internal/metrics"
	"go-storefront/internal/middleware"
	"go-storefront/internal/model"
	"go-storefront/internal/repository"
	"go-storefront/internal/service"
)

type testServer struct {
	store   *repository.MemoryStore
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		CORSOrigins:      []string{"*"},
		RateLimitRPM:     10000,
		AuthRateLimitRPM: 10000,
	}

	store := repository.NewMemoryStore()
	stores := service.NewMemoryStores(store)
	issuer, err := service.NewTokenIssuer(service.TokenConfig{
		Secret:    "router-test-secret-router-test-secret",
		Issuer:    "storefront",
		Audience:  "storefront-clients",
		ExpiresIn: time.Hour,
	})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sessions := service.NewSessionService(stores, issuer, nil, collector)
	accounts := service.NewAccountService(stores, service.AccountConfig{BcryptCost: bcrypt.MinCost, DefaultRole: model.RoleBuyer}, nil, collector)
	audits := service.NewAuditService(stores.Audits)

	h := New(
		cfg,
		middleware.NewAuthMiddleware(issuer),
		nil,
		handler.NewAuthHandler(sessions, accounts),
		handler.NewAuditHandler(audits),
		handler.NewUserHandler(accounts),
		handler.NewHealthHandler(nil),
		metrics.Handler(registry),
	)

	return &testServer{store: store, handler: h}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func (s *testServer) do(t *testing.T, method string, path string, body any, token string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (s *testServer) login(t *testing.T, username string, password string) model.LoginResult {
	t.Helper()

	status, env := s.do(t, http.MethodPost, "/api/Auth/Login", model.LoginRequest{Username: username, Password: password}, "")
	require.Equal(t, http.StatusOK, status)

	var result model.LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	return result
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/Auth/Register", model.RegisterRequest{
		Username: "alice", Password: "pw1", Email: "a@x.com", Roles: []string{"buyer"},
	}, "")
	require.Equal(t, http.StatusCreated, status)
	var alice model.AuthUser
	require.NoError(t, json.Unmarshal(env.Data, &alice))

	status, env = s.do(t, http.MethodPost, "/api/Auth/Register", model.RegisterRequest{
		Username: "alice", Password: "pw2", Email: "other@x.com",
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "USERNAME_TAKEN", env.Error.Code)

	first := s.login(t, "alice", "pw1")
	assert.Equal(t, alice.ID, first.UserID)
	assert.NotEmpty(t, first.JWTToken)

	status, env = s.do(t, http.MethodPost, "/api/Auth/Login", model.LoginRequest{Username: "alice", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", env.Error.Message)

	status, env = s.do(t, http.MethodGet, "/api/Auth/me", nil, first.JWTToken)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"username":"alice"`)

	status, env = s.do(t, http.MethodPost, "/api/Auth/refresh-token", model.RefreshRequest{RefreshToken: first.RefreshToken}, "")
	require.Equal(t, http.StatusOK, status)
	var rotated model.RefreshResult
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, first.RefreshToken, rotated.RefreshToken)

	status, env = s.do(t, http.MethodPost, "/api/Auth/refresh-token", model.RefreshRequest{RefreshToken: first.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Token has been revoked", env.Error.Message)

	status, env = s.do(t, http.MethodPost, "/api/Auth/refresh-token", model.RefreshRequest{RefreshToken: "never-issued"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/api/Auth/Logout?userId="+alice.ID, nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodPost, "/api/Auth/Logout?userId="+alice.ID, nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "NO_ACTIVE_SESSION", env.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/api/Auth/Logout?userId=not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, u := range []model.RegisterRequest{
		{Username: "alice", Password: "pw1", Email: "a@x.com"},
		{Username: "root", Password: "pw2", Email: "root@x.com"},
	} {
		status, _ := s.do(t, http.MethodPost, "/api/Auth/Register", u, "")
		require.Equal(t, http.StatusCreated, status)
	}

	rootUser, err := s.store.Users().FindByUsername(ctx, "root")
	require.NoError(t, err)
	require.NoError(t, s.store.Roles().Assign(ctx, rootUser.ID, model.RoleAdmin))

	alice := s.login(t, "alice", "pw1")
	admin := s.login(t, "root", "pw2")

	status, _ := s.do(t, http.MethodGet, "/api/Admin/GetAllAudits", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodGet, "/api/Admin/GetAllAudits", nil, alice.JWTToken)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, env = s.do(t, http.MethodGet, "/api/Admin/GetAllAudits?page=1&limit=10", nil, admin.JWTToken)
	require.Equal(t, http.StatusOK, status)
	var all model.AuditListData
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all.Items, 2)

	status, env = s.do(t, http.MethodGet, "/api/Admin/GetAuditsByUserID?userId="+alice.UserID, nil, admin.JWTToken)
	require.Equal(t, http.StatusOK, status)
	var mine model.AuditListData
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	require.Len(t, mine.Items, 1)
	assert.Equal(t, alice.UserID, mine.Items[0].UserID)

	status, _ = s.do(t, http.MethodDelete, "/api/Admin/DeleteUser?userId="+alice.UserID, nil, admin.JWTToken)
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodDelete, "/api/Admin/DeleteUser?userId="+alice.UserID, nil, admin.JWTToken)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/api/Auth/Login", model.LoginRequest{Username: "alice", Password: "pw1"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	s.do(t, http.MethodPost, "/api/Auth/Login", model.LoginRequest{Username: "ghost", Password: "x"}, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_session_operations_total")
}

func TestBearerRouteRejectsGarbageToken(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/Auth/me", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)
}
