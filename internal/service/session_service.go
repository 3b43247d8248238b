package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"go-storefront/internal/event"
	"go-storefront/internal/metrics"
	"go-storefront/internal/model"
	"go-storefront/internal/telemetry"
)

// SessionService owns the login, refresh and logout lifecycle. A user holds
// at most one active refresh token and at most one open audit entry: login
// revokes and closes everything earlier under a row lock on the user.
type SessionService struct {
	stores  Stores
	issuer  *TokenIssuer
	bus     event.Bus
	metrics metrics.Recorder
	now     func() time.Time
}

func NewSessionService(stores Stores, issuer *TokenIssuer, bus event.Bus, recorder metrics.Recorder) *SessionService {
	if bus == nil {
		bus = event.Nop{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &SessionService{
		stores:  stores,
		issuer:  issuer,
		bus:     bus,
		metrics: recorder,
		now:     utcNow,
	}
}

func (s *SessionService) Login(ctx context.Context, username string, password string) (model.LoginResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "SessionService.Login")
	defer span.End()
	start := time.Now()

	result, audit, token, err := s.login(ctx, username, password)
	s.observe(span, "login", start, err)
	if err != nil {
		return model.LoginResult{}, err
	}

	span.SetAttributes(attribute.String("user.id", result.UserID))
	s.bus.Publish(event.New(event.TypeSessionLogin, result.UserID, event.SessionPayload{
		UserID:  result.UserID,
		AuditID: audit.ID,
		TokenID: token.ID,
	}))
	slog.Info("user logged in", "user_id", result.UserID, "audit_id", audit.ID)

	return result, nil
}

func (s *SessionService) login(ctx context.Context, username string, password string) (model.LoginResult, model.SessionAudit, model.RefreshToken, error) {
	var (
		result model.LoginResult
		audit  model.SessionAudit
		token  model.RefreshToken
	)

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return result, audit, token, fmt.Errorf("%w: username and password are required", model.ErrInvalidInput)
	}

	user, err := s.stores.Users.FindByUsername(ctx, username)
	if errors.Is(err, model.ErrUserNotFound) {
		return result, audit, token, model.ErrInvalidCredentials
	}
	if err != nil {
		return result, audit, token, fmt.Errorf("%w: %w", model.ErrLoginFailed, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return result, audit, token, model.ErrInvalidCredentials
	}

	roles, err := s.stores.Roles.RolesForUser(ctx, user.ID)
	if err != nil {
		return result, audit, token, fmt.Errorf("%w: %w", model.ErrLoginFailed, err)
	}
	if len(roles) == 0 {
		return result, audit, token, model.ErrNoRolesAssigned
	}

	err = s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Users.LockForUpdate(ctx, user.ID); err != nil {
			return err
		}

		now := s.now()
		if _, err := s.stores.Audits.CloseAllOpen(ctx, user.ID, now); err != nil {
			return err
		}
		if _, err := s.stores.Tokens.RevokeAllActive(ctx, user.ID, now); err != nil {
			return err
		}

		access, _, err := s.issuer.IssueAccessToken(user, roles)
		if err != nil {
			return err
		}
		token, err = s.newRefreshToken(ctx, user.ID, now)
		if err != nil {
			return err
		}

		audit = model.SessionAudit{ID: uuid.NewString(), UserID: user.ID, LoginTime: now}
		if err := s.stores.Audits.Open(ctx, audit); err != nil {
			return err
		}

		result = model.LoginResult{JWTToken: access, RefreshToken: token.Token, UserID: user.ID}
		return nil
	})
	if err != nil {
		return model.LoginResult{}, audit, token, fmt.Errorf("%w: %w", model.ErrLoginFailed, err)
	}

	return result, audit, token, nil
}

func (s *SessionService) Refresh(ctx context.Context, presented string) (model.RefreshResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "SessionService.Refresh")
	defer span.End()
	start := time.Now()

	result, userID, token, err := s.refresh(ctx, presented)
	s.observe(span, "refresh", start, err)
	if err != nil {
		return model.RefreshResult{}, err
	}

	span.SetAttributes(attribute.String("user.id", userID))
	s.bus.Publish(event.New(event.TypeSessionRefresh, userID, event.SessionPayload{
		UserID:  userID,
		TokenID: token.ID,
	}))

	return result, nil
}

func (s *SessionService) refresh(ctx context.Context, presented string) (model.RefreshResult, string, model.RefreshToken, error) {
	var (
		result model.RefreshResult
		userID string
		token  model.RefreshToken
	)

	if strings.TrimSpace(presented) == "" {
		return result, userID, token, fmt.Errorf("%w: refresh token is required", model.ErrInvalidInput)
	}

	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		user, err := s.stores.Users.FindByRefreshToken(ctx, presented)
		if errors.Is(err, model.ErrUserNotFound) {
			return model.ErrInvalidRefreshToken
		}
		if err != nil {
			return err
		}

		if err := s.stores.Users.LockForUpdate(ctx, user.ID); err != nil {
			return err
		}

		stored, err := s.stores.Tokens.FindByToken(ctx, presented)
		if errors.Is(err, model.ErrTokenNotFound) {
			return model.ErrInvalidRefreshToken
		}
		if err != nil {
			return err
		}

		now := s.now()
		if stored.IsExpired(now) {
			return model.ErrTokenExpired
		}
		if stored.IsRevoked() {
			return model.ErrTokenRevoked
		}

		roles, err := s.stores.Roles.RolesForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if len(roles) == 0 {
			return model.ErrNoRolesAssigned
		}

		if err := s.stores.Tokens.Revoke(ctx, stored.ID, now); err != nil {
			return err
		}

		access, _, err := s.issuer.IssueAccessToken(user, roles)
		if err != nil {
			return err
		}
		token, err = s.newRefreshToken(ctx, user.ID, now)
		if err != nil {
			return err
		}

		userID = user.ID
		result = model.RefreshResult{JWTToken: access, RefreshToken: token.Token}
		return nil
	})
	if err != nil {
		if isRefreshRejection(err) {
			return model.RefreshResult{}, "", model.RefreshToken{}, err
		}
		return model.RefreshResult{}, "", model.RefreshToken{}, fmt.Errorf("%w: %w", model.ErrRefreshFailed, err)
	}

	return result, userID, token, nil
}

func isRefreshRejection(err error) bool {
	return errors.Is(err, model.ErrInvalidRefreshToken) ||
		errors.Is(err, model.ErrTokenExpired) ||
		errors.Is(err, model.ErrTokenRevoked) ||
		errors.Is(err, model.ErrNoRolesAssigned)
}

// Logout closes the most recent open audit entry of userID. Refresh tokens
// are left alone; the next login revokes them.
func (s *SessionService) Logout(ctx context.Context, userID string) (model.SessionAudit, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "SessionService.Logout", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()
	start := time.Now()

	entry, err := s.logout(ctx, userID)
	s.observe(span, "logout", start, err)
	if err != nil {
		return model.SessionAudit{}, err
	}

	s.bus.Publish(event.New(event.TypeSessionLogout, entry.UserID, event.SessionPayload{
		UserID:  entry.UserID,
		AuditID: entry.ID,
	}))
	slog.Info("user logged out", "user_id", entry.UserID, "audit_id", entry.ID)

	return entry, nil
}

func (s *SessionService) logout(ctx context.Context, userID string) (model.SessionAudit, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return model.SessionAudit{}, fmt.Errorf("%w: userId must be a UUID", model.ErrInvalidInput)
	}

	var entry model.SessionAudit
	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		latest, err := s.stores.Audits.LatestOpen(ctx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := s.stores.Audits.Close(ctx, latest.ID, now); err != nil {
			return err
		}

		latest.LogoutTime = &now
		entry = latest
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoActiveSession) {
			return model.SessionAudit{}, err
		}
		return model.SessionAudit{}, fmt.Errorf("logout: %w", err)
	}

	return entry, nil
}

func (s *SessionService) newRefreshToken(ctx context.Context, userID string, now time.Time) (model.RefreshToken, error) {
	raw, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return model.RefreshToken{}, err
	}

	token := model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     raw,
		CreatedAt: now,
		ExpiresAt: now.Add(model.RefreshTokenLifetime),
	}
	if err := s.stores.Tokens.Store(ctx, token); err != nil {
		return model.RefreshToken{}, err
	}

	return token, nil
}

func (s *SessionService) observe(span trace.Span, op string, start time.Time, err error) {
	s.metrics.RecordLatency(op, time.Since(start))
	if err == nil {
		s.metrics.RecordSession(op, metrics.OutcomeSuccess, "")
		return
	}

	reason := failureReason(err)
	s.metrics.RecordSession(op, metrics.OutcomeFailure, reason)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)

	if model.KindOf(err) == model.KindPersistence {
		slog.Error("session operation failed", "op", op, "error", err)
	} else {
		slog.Debug("session operation rejected", "op", op, "reason", reason)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrLoginFailed), errors.Is(err, model.ErrRefreshFailed):
		return "internal"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, model.ErrNoRolesAssigned):
		return "no_roles"
	case errors.Is(err, model.ErrInvalidRefreshToken):
		return "invalid_token"
	case errors.Is(err, model.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, model.ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, model.ErrNoActiveSession):
		return "no_active_session"
	default:
		return "internal"
	}
}
