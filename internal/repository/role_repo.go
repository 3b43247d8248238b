package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-storefront/internal/database"
	"go-storefront/internal/model"
)

// RoleRepository resolves and assigns role names through user_roles.
type RoleRepository struct {
	pool *pgxpool.Pool
}

func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{pool: pool}
}

func (r *RoleRepository) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT r.name
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = $1
		 ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

// Assign links userID to every named role. Unknown names fail with
// model.ErrUnknownRole and nothing is written.
func (r *RoleRepository) Assign(ctx context.Context, userID string, roleNames ...string) error {
	if len(roleNames) == 0 {
		return nil
	}

	conn := database.Conn(ctx, r.pool)

	var known int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM roles WHERE name = ANY($1)`, roleNames).Scan(&known); err != nil {
		return fmt.Errorf("check roles: %w", err)
	}
	if known != len(roleNames) {
		return model.ErrUnknownRole
	}

	_, err := conn.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT $1, id FROM roles WHERE name = ANY($2)
		 ON CONFLICT DO NOTHING`, userID, roleNames)
	if err != nil {
		return fmt.Errorf("assign roles: %w", err)
	}
	return nil
}
