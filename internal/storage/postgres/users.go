package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

const userColumns = `id, email, name, password_hash, role, business_id, status, created_at`

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		INSERT INTO users (email, name, password_hash, role, business_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, user.Email, user.Name, user.PasswordHash, user.Role, user.BusinessID, user.Status)
	created, err := scanUser(row)
	if err != nil {
		return models.User{}, mapError(err)
	}
	return created, nil
}

// FindByEmail fetches a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	user, err := scanUser(row)
	return user, mapError(err)
}

// FindByID fetches a user by primary key.
func (s *Store) FindByID(ctx context.Context, id int64) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	return user, mapError(err)
}

func (s *Store) ListUsersByBusiness(ctx context.Context, businessID int64) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE business_id = $1 ORDER BY id`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser rewrites the mutable profile columns.
func (s *Store) UpdateUser(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		UPDATE users SET email = $2, name = $3, role = $4, business_id = $5, status = $6
		WHERE id = $1
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, user.ID, user.Email, user.Name, user.Role, user.BusinessID, user.Status)
	updated, err := scanUser(row)
	return updated, mapError(err)
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return expectOne(s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash))
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return expectOne(s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id))
}

// CreateBusinessForUser inserts the business and activates its first user atomically.
func (s *Store) CreateBusinessForUser(ctx context.Context, business models.Business, userID int64) (models.Business, models.User, error) {
	var user models.User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO businesses (name, color1, color2, color3)
			VALUES ($1, $2, $3, $4)
			RETURNING id, name, color1, color2, color3, created_at`
		err := tx.QueryRow(ctx, insert, business.Name, business.Color1, business.Color2, business.Color3).
			Scan(&business.ID, &business.Name, &business.Color1, &business.Color2, &business.Color3, &business.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert business: %w", err)
		}

		const attach = `
			UPDATE users SET business_id = $2, status = $3
			WHERE id = $1
			RETURNING ` + userColumns
		user, err = scanUser(tx.QueryRow(ctx, attach, userID, business.ID, models.StatusActive))
		if err != nil {
			return fmt.Errorf("attach user: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Business{}, models.User{}, mapError(err)
	}
	return business, user, nil
}

// CreateBusinessWithOwner inserts the business and its Active owner atomically.
func (s *Store) CreateBusinessWithOwner(ctx context.Context, business models.Business, owner models.User) (models.Business, models.User, error) {
	var user models.User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO businesses (name, color1, color2, color3)
			VALUES ($1, $2, $3, $4)
			RETURNING id, name, color1, color2, color3, created_at`
		err := tx.QueryRow(ctx, insert, business.Name, business.Color1, business.Color2, business.Color3).
			Scan(&business.ID, &business.Name, &business.Color1, &business.Color2, &business.Color3, &business.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert business: %w", err)
		}

		const create = `
			INSERT INTO users (email, name, password_hash, role, business_id, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING ` + userColumns
		user, err = scanUser(tx.QueryRow(ctx, create,
			owner.Email, owner.Name, owner.PasswordHash, owner.Role, business.ID, models.StatusActive))
		if err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Business{}, models.User{}, mapError(err)
	}
	return business, user, nil
}

func (s *Store) GetBusiness(ctx context.Context, id int64) (models.Business, error) {
	var b models.Business
	err := s.pool.QueryRow(ctx, `SELECT id, name, color1, color2, color3, created_at FROM businesses WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Color1, &b.Color2, &b.Color3, &b.CreatedAt)
	return b, mapError(err)
}

// SaveRegistration stores or replaces the pending code for an email.
func (s *Store) SaveRegistration(ctx context.Context, reg models.Registration) error {
	const query = `
		INSERT INTO registrations (email, code, expires_at) VALUES (lower($1), $2, $3)
		ON CONFLICT (email) DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at`
	_, err := s.pool.Exec(ctx, query, reg.Email, reg.Code, reg.ExpiresAt)
	return err
}

func (s *Store) ConsumeRegistration(ctx context.Context, email, code string, now time.Time) error {
	const query = `DELETE FROM registrations WHERE email = lower($1) AND code = $2 AND expires_at > $3`
	return expectOne(s.pool.Exec(ctx, query, email, code, now))
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Role, &user.BusinessID, &user.Status, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}

var _ storage.UserStore = (*Store)(nil)
