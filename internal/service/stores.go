package service

import (
	"context"
	"time"

	"go-storefront/internal/database"
	"go-storefront/internal/model"
	"go-storefront/internal/repository"
)

type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	FindByRefreshToken(ctx context.Context, token string) (model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user model.User) error
	LockForUpdate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type RoleStore interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
	Assign(ctx context.Context, userID string, roleNames ...string) error
}

type TokenStore interface {
	Store(ctx context.Context, token model.RefreshToken) error
	FindByToken(ctx context.Context, token string) (model.RefreshToken, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllActive(ctx context.Context, userID string, at time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]model.RefreshToken, error)
	PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error)
}

type AuditStore interface {
	Open(ctx context.Context, entry model.SessionAudit) error
	LatestOpen(ctx context.Context, userID string) (model.SessionAudit, error)
	Close(ctx context.Context, id string, at time.Time) error
	CloseAllOpen(ctx context.Context, userID string, at time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]model.SessionAudit, error)
	Query(ctx context.Context, query model.AuditQuery) ([]model.SessionAudit, model.Meta, error)
}

// Transactor runs fn as one unit of work. Stores called with the ctx passed
// to fn take part in it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Stores struct {
	Users  UserStore
	Roles  RoleStore
	Tokens TokenStore
	Audits AuditStore
	Tx     Transactor
}

func NewPostgresStores(db *database.DB) Stores {
	return Stores{
		Users:  repository.NewUserRepository(db.Pool),
		Roles:  repository.NewRoleRepository(db.Pool),
		Tokens: repository.NewTokenRepository(db.Pool),
		Audits: repository.NewAuditRepository(db.Pool),
		Tx:     db,
	}
}

func NewMemoryStores(m *repository.MemoryStore) Stores {
	return Stores{
		Users:  m.Users(),
		Roles:  m.Roles(),
		Tokens: m.Tokens(),
		Audits: m.Audits(),
		Tx:     m,
	}
}

// utcNow matches the microsecond precision Postgres keeps for timestamptz.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
