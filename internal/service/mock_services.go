package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"go-storefront/internal/model"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Login(ctx context.Context, username string, password string) (model.LoginResult, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(model.LoginResult), args.Error(1)
}

func (m *MockSessionService) Refresh(ctx context.Context, presented string) (model.RefreshResult, error) {
	args := m.Called(ctx, presented)
	return args.Get(0).(model.RefreshResult), args.Error(1)
}

func (m *MockSessionService) Logout(ctx context.Context, userID string) (model.SessionAudit, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.SessionAudit), args.Error(1)
}

type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) Register(ctx context.Context, req model.RegisterRequest) (model.AuthUser, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.AuthUser), args.Error(1)
}

func (m *MockAccountService) Me(ctx context.Context, userID string) (model.AuthUser, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.AuthUser), args.Error(1)
}

func (m *MockAccountService) DeleteUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) ListAudits(ctx context.Context, query model.AuditQuery) ([]model.SessionAudit, model.Meta, error) {
	args := m.Called(ctx, query)
	var entries []model.SessionAudit
	if v := args.Get(0); v != nil {
		entries = v.([]model.SessionAudit)
	}
	return entries, args.Get(1).(model.Meta), args.Error(2)
}

func (m *MockAuditService) ListAuditsForUser(ctx context.Context, userID string) ([]model.SessionAudit, error) {
	args := m.Called(ctx, userID)
	var entries []model.SessionAudit
	if v := args.Get(0); v != nil {
		entries = v.([]model.SessionAudit)
	}
	return entries, args.Error(1)
}
