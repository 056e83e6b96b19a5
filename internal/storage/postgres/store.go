package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store provides Postgres-backed persistence for every CRM entity.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store and runs migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the idempotent schema and seed statements.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS businesses (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			color1 TEXT NOT NULL DEFAULT '',
			color2 TEXT NOT NULL DEFAULT '',
			color3 TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS roles (
			id BIGSERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS permissions (
			id BIGSERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission_id BIGINT NOT NULL REFERENCES permissions(id),
			PRIMARY KEY (role_id, permission_id)
		);`,
		`INSERT INTO roles (name, description) VALUES
			('Admin', 'Full access, manages users and roles'),
			('Member', 'Works the pipeline')
		ON CONFLICT (name) DO NOTHING;`,
		`INSERT INTO permissions (name, description) VALUES
			('pipeline:write', 'Create and change funnels, stages, prospects and activities'),
			('clients:write', 'Create and change clients'),
			('tasks:write', 'Create and change tasks'),
			('emails:send', 'Send bulk email'),
			('templates:write', 'Create and change email templates'),
			('invitations:manage', 'Invite and manage users'),
			('roles:manage', 'Create roles')
		ON CONFLICT (name) DO NOTHING;`,
		`INSERT INTO role_permissions (role_id, permission_id)
			SELECT r.id, p.id FROM roles r CROSS JOIN permissions p WHERE r.name = 'Admin'
		ON CONFLICT DO NOTHING;`,
		`INSERT INTO role_permissions (role_id, permission_id)
			SELECT r.id, p.id FROM roles r CROSS JOIN permissions p
			WHERE r.name = 'Member' AND p.name NOT IN ('invitations:manage', 'roles:manage')
		ON CONFLICT DO NOTHING;`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL REFERENCES roles(name),
			business_id BIGINT REFERENCES businesses(id),
			status TEXT NOT NULL DEFAULT 'Active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS users_business_idx ON users (business_id);`,
		`CREATE TABLE IF NOT EXISTS registrations (
			email TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS clients (
			client_id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS funnels (
			funnel_id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS funnel_stages (
			id BIGSERIAL PRIMARY KEY,
			funnel_id BIGINT NOT NULL REFERENCES funnels(funnel_id),
			name TEXT NOT NULL,
			position INT NOT NULL,
			UNIQUE (funnel_id, position)
		);`,
		`CREATE TABLE IF NOT EXISTS prospects (
			prospect_id BIGSERIAL PRIMARY KEY,
			funnel_id BIGINT NOT NULL REFERENCES funnels(funnel_id),
			client_id BIGINT NOT NULL REFERENCES clients(client_id),
			stage_id BIGINT NOT NULL REFERENCES funnel_stages(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS prospects_funnel_idx ON prospects (funnel_id);`,
		`CREATE TABLE IF NOT EXISTS activities (
			activity_id BIGSERIAL PRIMARY KEY,
			prospect_id BIGINT NOT NULL REFERENCES prospects(prospect_id),
			activity_type TEXT NOT NULL,
			activity_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			notes TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS activities_prospect_idx ON activities (prospect_id);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			due_date TIMESTAMPTZ,
			assigned_to BIGINT REFERENCES users(id) ON DELETE SET NULL,
			prospect_id BIGINT REFERENCES prospects(prospect_id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS email_templates (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mapError translates driver errors into storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", storage.ErrInvalidReference, pgErr.ConstraintName)
		}
	}
	return err
}

// mapDeleteError is mapError for deletes, where a foreign key violation means
// the row is still referenced.
func mapDeleteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", storage.ErrInUse, pgErr.ConstraintName)
	}
	return mapError(err)
}

// expectOne turns a zero-row command into ErrNotFound.
func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapDeleteError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
