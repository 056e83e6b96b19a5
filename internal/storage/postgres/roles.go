package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// ListRoles returns every role with its permission names.
func (s *Store) ListRoles(ctx context.Context) ([]models.Role, error) {
	const query = `
	SELECT r.id, r.name, r.description,
	(
		SELECT COALESCE(array_agg(p.name ORDER BY p.name), '{}')
		FROM role_permissions rp
		JOIN permissions p ON rp.permission_id = p.id
		WHERE rp.role_id = r.id
	)
	FROM roles r
	ORDER BY r.id;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []models.Role{}
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Permissions); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []models.Permission{}
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateRole inserts the role and links its permissions in one transaction.
func (s *Store) CreateRole(ctx context.Context, role models.Role, permissionIDs []int64) (models.Role, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id`, role.Name, role.Description).
			Scan(&role.ID)
		if err != nil {
			return err
		}
		for _, pid := range permissionIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, role.ID, pid); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `
			SELECT COALESCE(array_agg(p.name ORDER BY p.name), '{}')
			FROM role_permissions rp JOIN permissions p ON rp.permission_id = p.id
			WHERE rp.role_id = $1`, role.ID).Scan(&role.Permissions)
	})
	if err != nil {
		return models.Role{}, fmt.Errorf("create role %q: %w", role.Name, mapError(err))
	}
	return role, nil
}

func (s *Store) RoleExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

var _ storage.RoleStore = (*Store)(nil)
