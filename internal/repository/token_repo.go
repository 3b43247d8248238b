package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-storefront/internal/database"
	"go-storefront/internal/model"
)

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Store(ctx context.Context, token model.RefreshToken) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.UserID, token.Token, token.CreatedAt, token.ExpiresAt, token.RevokedAt)
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) FindByToken(ctx context.Context, token string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, token, created_at, expires_at, revoked_at
		 FROM refresh_tokens WHERE token = $1`, token).
		Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return t, nil
}

func (r *TokenRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTokenRevoked
	}
	return nil
}

// RevokeAllActive revokes every unrevoked, unexpired token of userID.
func (r *TokenRepository) RevokeAllActive(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2
		 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke active refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) ListByUser(ctx context.Context, userID string) ([]model.RefreshToken, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT id, user_id, token, created_at, expires_at, revoked_at
		 FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]model.RefreshToken, 0)
	for rows.Next() {
		var t model.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// PurgeInactive deletes tokens revoked or expired before cutoff.
func (r *TokenRepository) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM refresh_tokens
		 WHERE (revoked_at IS NOT NULL AND revoked_at < $1) OR expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
