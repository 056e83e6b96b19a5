package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

const prospectSelect = `
	SELECT p.prospect_id, p.funnel_id, p.client_id, p.stage_id, fs.name, p.created_at, p.updated_at,
		c.client_id, c.name, c.email, c.phone, c.company, c.notes, c.created_at, c.updated_at
	FROM prospects p
	JOIN funnel_stages fs ON fs.id = p.stage_id
	JOIN clients c ON c.client_id = p.client_id`

// CreateProspect inserts a prospect whose stage must belong to its funnel.
func (s *Store) CreateProspect(ctx context.Context, prospect models.Prospect) (models.Prospect, error) {
	var id int64
	const insert = `
		INSERT INTO prospects (funnel_id, client_id, stage_id)
		SELECT fs.funnel_id, $2, fs.id FROM funnel_stages fs
		WHERE fs.id = $3 AND fs.funnel_id = $1
		RETURNING prospect_id`
	err := s.pool.QueryRow(ctx, insert, prospect.FunnelID, prospect.ClientID, prospect.StageID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Prospect{}, fmt.Errorf("%w: stage %d is not part of funnel %d", storage.ErrInvalidReference, prospect.StageID, prospect.FunnelID)
	}
	if err != nil {
		return models.Prospect{}, mapError(err)
	}
	return s.GetProspect(ctx, id)
}

func (s *Store) GetProspect(ctx context.Context, id int64) (models.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx, prospectSelect+` WHERE p.prospect_id = $1`, id))
	return p, mapError(err)
}

func (s *Store) ListProspectsByFunnel(ctx context.Context, funnelID int64) ([]models.Prospect, error) {
	rows, err := s.pool.Query(ctx, prospectSelect+` WHERE p.funnel_id = $1 ORDER BY fs.position, p.prospect_id`, funnelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prospects := []models.Prospect{}
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		prospects = append(prospects, p)
	}
	return prospects, rows.Err()
}

// DeleteProspect removes the prospect together with its activity history.
func (s *Store) DeleteProspect(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE prospect_id = $1`, id); err != nil {
			return err
		}
		return expectOne(tx.Exec(ctx, `DELETE FROM prospects WHERE prospect_id = $1`, id))
	})
	return mapDeleteError(err)
}

// TransitionStage moves the prospect and records the built activity atomically.
func (s *Store) TransitionStage(ctx context.Context, prospectID, stageID int64, build storage.ActivityBuilder) (models.Prospect, models.Activity, error) {
	var activity models.Activity
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var funnelID int64
		if err := tx.QueryRow(ctx, `SELECT funnel_id FROM prospects WHERE prospect_id = $1 FOR UPDATE`, prospectID).Scan(&funnelID); err != nil {
			return err
		}

		stage, err := scanStage(tx.QueryRow(ctx, `SELECT id, funnel_id, name, position FROM funnel_stages WHERE id = $1`, stageID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: stage %d does not exist", storage.ErrInvalidReference, stageID)
		}
		if err != nil {
			return err
		}
		if stage.FunnelID != funnelID {
			return fmt.Errorf("%w: stage %d is not part of funnel %d", storage.ErrInvalidReference, stageID, funnelID)
		}

		if _, err := tx.Exec(ctx, `UPDATE prospects SET stage_id = $2, updated_at = NOW() WHERE prospect_id = $1`, prospectID, stageID); err != nil {
			return err
		}

		a := build(stage)
		a.ProspectID = prospectID
		activity, err = insertActivity(ctx, tx, a)
		return err
	})
	if err != nil {
		return models.Prospect{}, models.Activity{}, mapError(err)
	}

	prospect, err := s.GetProspect(ctx, prospectID)
	if err != nil {
		return models.Prospect{}, models.Activity{}, err
	}
	return prospect, activity, nil
}

// ListRecipients joins prospects to their clients for bulk email.
func (s *Store) ListRecipients(ctx context.Context, filter models.ProspectFilter) ([]models.Recipient, error) {
	var (
		where []string
		args  []any
	)
	if filter.FunnelID != nil {
		args = append(args, *filter.FunnelID)
		where = append(where, fmt.Sprintf("p.funnel_id = $%d", len(args)))
	}
	if filter.StageID != nil {
		args = append(args, *filter.StageID)
		where = append(where, fmt.Sprintf("p.stage_id = $%d", len(args)))
	}

	query := `
		SELECT p.prospect_id, c.client_id, c.name, c.company, c.email, f.name, fs.name
		FROM prospects p
		JOIN clients c ON c.client_id = p.client_id
		JOIN funnels f ON f.funnel_id = p.funnel_id
		JOIN funnel_stages fs ON fs.id = p.stage_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.prospect_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []models.Recipient{}
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.ProspectID, &r.ClientID, &r.ClientName, &r.Company, &r.Email, &r.FunnelName, &r.StageName); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

func scanProspect(row pgx.Row) (models.Prospect, error) {
	var (
		p models.Prospect
		c models.Client
	)
	err := row.Scan(&p.ID, &p.FunnelID, &p.ClientID, &p.StageID, &p.StageName, &p.CreatedAt, &p.UpdatedAt,
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Prospect{}, err
	}
	p.Client = &c
	return p, nil
}
