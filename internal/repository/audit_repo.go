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

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Open(ctx context.Context, entry model.SessionAudit) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO session_audits (id, user_id, login_time, logout_time)
		 VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.UserID, entry.LoginTime, entry.LogoutTime)
	if err != nil {
		return fmt.Errorf("open session audit: %w", err)
	}
	return nil
}

// LatestOpen returns the open entry with the most recent login time.
func (r *AuditRepository) LatestOpen(ctx context.Context, userID string) (model.SessionAudit, error) {
	var a model.SessionAudit
	err := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, login_time, logout_time
		 FROM session_audits
		 WHERE user_id = $1 AND logout_time IS NULL
		 ORDER BY login_time DESC
		 LIMIT 1`, userID).
		Scan(&a.ID, &a.UserID, &a.LoginTime, &a.LogoutTime)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.SessionAudit{}, model.ErrNoActiveSession
	}
	if err != nil {
		return model.SessionAudit{}, fmt.Errorf("find open session audit: %w", err)
	}
	return a, nil
}

func (r *AuditRepository) Close(ctx context.Context, id string, at time.Time) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE session_audits SET logout_time = $2 WHERE id = $1 AND logout_time IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("close session audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNoActiveSession
	}
	return nil
}

func (r *AuditRepository) CloseAllOpen(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE session_audits SET logout_time = $2 WHERE user_id = $1 AND logout_time IS NULL`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("close open session audits: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string) ([]model.SessionAudit, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT id, user_id, login_time, logout_time
		 FROM session_audits WHERE user_id = $1
		 ORDER BY login_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list session audits: %w", err)
	}
	return scanAudits(rows)
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.SessionAudit, model.Meta, error) {
	query = NormalizeAuditQuery(query)
	conn := database.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM session_audits`).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count session audits: %w", err)
	}

	rows, err := conn.Query(ctx,
		`SELECT id, user_id, login_time, logout_time
		 FROM session_audits
		 ORDER BY login_time DESC
		 LIMIT $1 OFFSET $2`, query.Limit, (query.Page-1)*query.Limit)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query session audits: %w", err)
	}

	entries, err := scanAudits(rows)
	if err != nil {
		return nil, model.Meta{}, err
	}
	return entries, PageMeta(query, total), nil
}

func scanAudits(rows pgx.Rows) ([]model.SessionAudit, error) {
	defer rows.Close()

	entries := make([]model.SessionAudit, 0)
	for rows.Next() {
		var a model.SessionAudit
		if err := rows.Scan(&a.ID, &a.UserID, &a.LoginTime, &a.LogoutTime); err != nil {
			return nil, fmt.Errorf("scan session audit: %w", err)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// NormalizeAuditQuery clamps paging to page >= 1 and 1 <= limit <= 200.
func NormalizeAuditQuery(query model.AuditQuery) model.AuditQuery {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	return query
}

func PageMeta(query model.AuditQuery, total int) model.Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + query.Limit - 1) / query.Limit
	}
	return model.Meta{Page: query.Page, Limit: query.Limit, Total: total, TotalPages: totalPages}
}
