package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go-storefront/internal/event"
	"go-storefront/internal/metrics"
	"go-storefront/internal/model"
)

type AccountConfig struct {
	BcryptCost  int
	DefaultRole string
}

type AccountService struct {
	stores      Stores
	bcryptCost  int
	defaultRole string
	bus         event.Bus
	metrics     metrics.Recorder
	now         func() time.Time
}

func NewAccountService(stores Stores, cfg AccountConfig, bus event.Bus, recorder metrics.Recorder) *AccountService {
	if bus == nil {
		bus = event.Nop{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	return &AccountService{
		stores:      stores,
		bcryptCost:  cost,
		defaultRole: strings.ToLower(strings.TrimSpace(cfg.DefaultRole)),
		bus:         bus,
		metrics:     recorder,
		now:         utcNow,
	}
}

func (s *AccountService) Register(ctx context.Context, req model.RegisterRequest) (model.AuthUser, error) {
	user, roles, err := s.register(ctx, req)
	if err != nil {
		s.metrics.RecordRegistration(metrics.OutcomeFailure)
		return model.AuthUser{}, err
	}
	s.metrics.RecordRegistration(metrics.OutcomeSuccess)

	s.bus.Publish(event.New(event.TypeUserRegistered, user.ID, map[string]any{
		"userId":   user.ID,
		"username": user.Username,
		"roles":    roles,
	}))
	slog.Info("user registered", "user_id", user.ID, "username", user.Username, "roles", roles)

	return toAuthUser(user, roles), nil
}

func (s *AccountService) register(ctx context.Context, req model.RegisterRequest) (model.User, []string, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	password := req.Password

	if username == "" || strings.TrimSpace(password) == "" || email == "" {
		return model.User{}, nil, fmt.Errorf("%w: username, password and email are required", model.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return model.User{}, nil, fmt.Errorf("%w: email is not valid", model.ErrInvalidInput)
	}

	roles, err := s.requestedRoles(req.Roles)
	if err != nil {
		return model.User{}, nil, err
	}

	if taken, err := s.stores.Users.ExistsByUsername(ctx, username); err != nil {
		return model.User{}, nil, err
	} else if taken {
		return model.User{}, nil, model.ErrUsernameTaken
	}
	if taken, err := s.stores.Users.ExistsByEmail(ctx, email); err != nil {
		return model.User{}, nil, err
	} else if taken {
		return model.User{}, nil, model.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return model.User{}, nil, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}

	err = s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Users.Create(ctx, user); err != nil {
			return err
		}
		if len(roles) == 0 {
			return nil
		}
		return s.stores.Roles.Assign(ctx, user.ID, roles...)
	})
	if err != nil {
		return model.User{}, nil, err
	}

	return user, roles, nil
}

func (s *AccountService) requestedRoles(requested []string) ([]string, error) {
	seen := map[string]struct{}{}
	roles := make([]string, 0, len(requested))
	for _, role := range requested {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if role == model.RoleAdmin {
			return nil, fmt.Errorf("%w: the admin role cannot be requested", model.ErrInvalidInput)
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	if len(roles) == 0 && s.defaultRole != "" {
		roles = append(roles, s.defaultRole)
	}
	return roles, nil
}

// Me returns the profile behind an access token.
func (s *AccountService) Me(ctx context.Context, userID string) (model.AuthUser, error) {
	user, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		return model.AuthUser{}, err
	}

	roles, err := s.stores.Roles.RolesForUser(ctx, user.ID)
	if err != nil {
		return model.AuthUser{}, err
	}

	return toAuthUser(user, roles), nil
}

// DeleteUser removes the user with its roles, tokens and audit entries.
func (s *AccountService) DeleteUser(ctx context.Context, userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: userId must be a UUID", model.ErrInvalidInput)
	}

	if err := s.stores.Users.Delete(ctx, userID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.bus.Publish(event.New(event.TypeUserDeleted, userID, map[string]any{"userId": userID}))
	slog.Info("user deleted", "user_id", userID)
	return nil
}

func toAuthUser(user model.User, roles []string) model.AuthUser {
	if roles == nil {
		roles = []string{}
	}
	return model.AuthUser{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Roles:     roles,
		CreatedAt: user.CreatedAt,
	}
}
