package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/pipeline-crm/internal/models"
)

// CreateFunnel inserts the funnel and its stages in one transaction.
func (s *Store) CreateFunnel(ctx context.Context, funnel models.Funnel) (models.Funnel, error) {
	stages := funnel.Stages
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO funnels (name, description) VALUES ($1, $2)
			RETURNING funnel_id, name, description, created_at, updated_at`
		if err := scanFunnel(tx.QueryRow(ctx, insert, funnel.Name, funnel.Description), &funnel); err != nil {
			return fmt.Errorf("insert funnel: %w", err)
		}

		funnel.Stages = make([]models.FunnelStage, 0, len(stages))
		for _, st := range stages {
			st.FunnelID = funnel.ID
			created, err := insertStage(ctx, tx, st)
			if err != nil {
				return fmt.Errorf("insert stage %q: %w", st.Name, err)
			}
			funnel.Stages = append(funnel.Stages, created)
		}
		return nil
	})
	if err != nil {
		return models.Funnel{}, mapError(err)
	}
	return funnel, nil
}

// GetFunnel returns the funnel with its stages ordered by position.
func (s *Store) GetFunnel(ctx context.Context, id int64) (models.Funnel, error) {
	var funnel models.Funnel
	const query = `SELECT funnel_id, name, description, created_at, updated_at FROM funnels WHERE funnel_id = $1`
	if err := scanFunnel(s.pool.QueryRow(ctx, query, id), &funnel); err != nil {
		return models.Funnel{}, mapError(err)
	}

	stages, err := s.ListStages(ctx, id)
	if err != nil {
		return models.Funnel{}, err
	}
	funnel.Stages = stages
	return funnel, nil
}

func (s *Store) ListFunnels(ctx context.Context) ([]models.Funnel, error) {
	rows, err := s.pool.Query(ctx, `SELECT funnel_id, name, description, created_at, updated_at FROM funnels ORDER BY funnel_id`)
	if err != nil {
		return nil, err
	}
	funnels := []models.Funnel{}
	index := map[int64]int{}
	for rows.Next() {
		var f models.Funnel
		if err := scanFunnel(rows, &f); err != nil {
			rows.Close()
			return nil, err
		}
		f.Stages = []models.FunnelStage{}
		index[f.ID] = len(funnels)
		funnels = append(funnels, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stageRows, err := s.pool.Query(ctx, `SELECT id, funnel_id, name, position FROM funnel_stages ORDER BY funnel_id, position`)
	if err != nil {
		return nil, err
	}
	defer stageRows.Close()
	for stageRows.Next() {
		st, err := scanStage(stageRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[st.FunnelID]; ok {
			funnels[i].Stages = append(funnels[i].Stages, st)
		}
	}
	return funnels, stageRows.Err()
}

func (s *Store) UpdateFunnel(ctx context.Context, funnel models.Funnel) (models.Funnel, error) {
	const query = `
		UPDATE funnels SET name = $2, description = $3, updated_at = NOW()
		WHERE funnel_id = $1
		RETURNING funnel_id, name, description, created_at, updated_at`
	var updated models.Funnel
	if err := scanFunnel(s.pool.QueryRow(ctx, query, funnel.ID, funnel.Name, funnel.Description), &updated); err != nil {
		return models.Funnel{}, mapError(err)
	}
	stages, err := s.ListStages(ctx, updated.ID)
	if err != nil {
		return models.Funnel{}, err
	}
	updated.Stages = stages
	return updated, nil
}

// DeleteFunnelCascade removes activities, prospects, stages and then the
// funnel. Tasks pointing at removed prospects are detached by the schema.
func (s *Store) DeleteFunnelCascade(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM funnels WHERE funnel_id = $1) `, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return pgx.ErrNoRows
		}

		stmts := []string{
			`DELETE FROM activities WHERE prospect_id IN (SELECT prospect_id FROM prospects WHERE funnel_id = $1)`,
			`DELETE FROM prospects WHERE funnel_id = $1`,
			`DELETE FROM funnel_stages WHERE funnel_id = $1`,
			`DELETE FROM funnels WHERE funnel_id = $1`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
	return mapDeleteError(err)
}

func (s *Store) CreateStage(ctx context.Context, stage models.FunnelStage) (models.FunnelStage, error) {
	created, err := insertStage(ctx, s.pool, stage)
	return created, mapError(err)
}

func (s *Store) GetStage(ctx context.Context, id int64) (models.FunnelStage, error) {
	st, err := scanStage(s.pool.QueryRow(ctx, `SELECT id, funnel_id, name, position FROM funnel_stages WHERE id = $1`, id))
	return st, mapError(err)
}

func (s *Store) ListStages(ctx context.Context, funnelID int64) ([]models.FunnelStage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, funnel_id, name, position FROM funnel_stages WHERE funnel_id = $1 ORDER BY position`, funnelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := []models.FunnelStage{}
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func (s *Store) UpdateStage(ctx context.Context, stage models.FunnelStage) (models.FunnelStage, error) {
	const query = `
		UPDATE funnel_stages SET name = $2, position = $3
		WHERE id = $1
		RETURNING id, funnel_id, name, position`
	updated, err := scanStage(s.pool.QueryRow(ctx, query, stage.ID, stage.Name, stage.Position))
	return updated, mapError(err)
}

// DeleteStage refuses with ErrInUse while prospects still sit in the stage.
func (s *Store) DeleteStage(ctx context.Context, id int64) error {
	return expectOne(s.pool.Exec(ctx, `DELETE FROM funnel_stages WHERE id = $1`, id))
}

func insertStage(ctx context.Context, q queryRower, st models.FunnelStage) (models.FunnelStage, error) {
	const query = `
		INSERT INTO funnel_stages (funnel_id, name, position) VALUES ($1, $2, $3)
		RETURNING id, funnel_id, name, position`
	return scanStage(q.QueryRow(ctx, query, st.FunnelID, st.Name, st.Position))
}

func scanFunnel(row pgx.Row, f *models.Funnel) error {
	return row.Scan(&f.ID, &f.Name, &f.Description, &f.CreatedAt, &f.UpdatedAt)
}

func scanStage(row pgx.Row) (models.FunnelStage, error) {
	var st models.FunnelStage
	err := row.Scan(&st.ID, &st.FunnelID, &st.Name, &st.Position)
	return st, err
}
