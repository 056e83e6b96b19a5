package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/pipeline-crm/internal/models"
)

// Clients

const clientColumns = `client_id, name, email, phone, company, notes, created_at, updated_at`

func (s *Store) CreateClient(ctx context.Context, c models.Client) (models.Client, error) {
	const query = `
		INSERT INTO clients (name, email, phone, company, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + clientColumns
	created, err := scanClient(s.pool.QueryRow(ctx, query, c.Name, c.Email, c.Phone, c.Company, c.Notes))
	return created, mapError(err)
}

func (s *Store) GetClient(ctx context.Context, id int64) (models.Client, error) {
	c, err := scanClient(s.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE client_id = $1`, id))
	return c, mapError(err)
}

func (s *Store) ListClients(ctx context.Context) ([]models.Client, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY client_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := []models.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *Store) UpdateClient(ctx context.Context, c models.Client) (models.Client, error) {
	const query = `
		UPDATE clients SET name = $2, email = $3, phone = $4, company = $5, notes = $6, updated_at = NOW()
		WHERE client_id = $1
		RETURNING ` + clientColumns
	updated, err := scanClient(s.pool.QueryRow(ctx, query, c.ID, c.Name, c.Email, c.Phone, c.Company, c.Notes))
	return updated, mapError(err)
}

func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	return expectOne(s.pool.Exec(ctx, `DELETE FROM clients WHERE client_id = $1`, id))
}

func scanClient(row pgx.Row) (models.Client, error) {
	var c models.Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// Activities

const activityColumns = `activity_id, prospect_id, activity_type, activity_date, notes`

func (s *Store) CreateActivity(ctx context.Context, a models.Activity) (models.Activity, error) {
	created, err := insertActivity(ctx, s.pool, a)
	return created, mapError(err)
}

func (s *Store) GetActivity(ctx context.Context, id int64) (models.Activity, error) {
	a, err := scanActivity(s.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id = $1`, id))
	return a, mapError(err)
}

func (s *Store) ListActivitiesByProspect(ctx context.Context, prospectID int64) ([]models.Activity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+activityColumns+` FROM activities WHERE prospect_id = $1 ORDER BY activity_date DESC, activity_id DESC`, prospectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := []models.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (s *Store) UpdateActivity(ctx context.Context, a models.Activity) (models.Activity, error) {
	const query = `
		UPDATE activities SET activity_type = $2, activity_date = COALESCE($3, activity_date), notes = $4
		WHERE activity_id = $1
		RETURNING ` + activityColumns
	var date *time.Time
	if !a.ActivityDate.IsZero() {
		date = &a.ActivityDate
	}
	updated, err := scanActivity(s.pool.QueryRow(ctx, query, a.ID, a.ActivityType, date, a.Notes))
	return updated, mapError(err)
}

func (s *Store) DeleteActivity(ctx context.Context, id int64) error {
	return expectOne(s.pool.Exec(ctx, `DELETE FROM activities WHERE activity_id = $1`, id))
}

// queryRower is satisfied by both the pool and a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertActivity(ctx context.Context, q queryRower, a models.Activity) (models.Activity, error) {
	const query = `
		INSERT INTO activities (prospect_id, activity_type, activity_date, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + activityColumns
	return scanActivity(q.QueryRow(ctx, query, a.ProspectID, a.ActivityType, a.ActivityDate, a.Notes))
}

func scanActivity(row pgx.Row) (models.Activity, error) {
	var a models.Activity
	err := row.Scan(&a.ID, &a.ProspectID, &a.ActivityType, &a.ActivityDate, &a.Notes)
	return a, err
}

// Tasks

const taskColumns = `task_id, title, description, status, due_date, assigned_to, prospect_id, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	const query = `
		INSERT INTO tasks (title, description, status, due_date, assigned_to, prospect_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + taskColumns
	created, err := scanTask(s.pool.QueryRow(ctx, query, t.Title, t.Description, t.Status, t.DueDate, t.AssignedTo, t.ProspectID))
	return created, mapError(err)
}

func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id))
	return t, mapError(err)
}

func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t models.Task) (models.Task, error) {
	const query = `
		UPDATE tasks SET title = $2, description = $3, status = COALESCE(NULLIF($4, ''), status), due_date = $5, assigned_to = $6, prospect_id = $7, updated_at = NOW()
		WHERE task_id = $1
		RETURNING ` + taskColumns
	updated, err := scanTask(s.pool.QueryRow(ctx, query, t.ID, t.Title, t.Description, t.Status, t.DueDate, t.AssignedTo, t.ProspectID))
	return updated, mapError(err)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status string) (models.Task, error) {
	const query = `UPDATE tasks SET status = $2, updated_at = NOW() WHERE task_id = $1 RETURNING ` + taskColumns
	updated, err := scanTask(s.pool.QueryRow(ctx, query, id, status))
	return updated, mapError(err)
}

func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	return expectOne(s.pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, id))
}

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.DueDate, &t.AssignedTo, &t.ProspectID, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Email templates

func (s *Store) CreateTemplate(ctx context.Context, tpl models.EmailTemplate) (models.EmailTemplate, error) {
	const query = `INSERT INTO email_templates (title, content) VALUES ($1, $2) RETURNING id, title, content, created_at`
	created, err := scanTemplate(s.pool.QueryRow(ctx, query, tpl.Title, tpl.Content))
	return created, mapError(err)
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (models.EmailTemplate, error) {
	tpl, err := scanTemplate(s.pool.QueryRow(ctx, `SELECT id, title, content, created_at FROM email_templates WHERE id = $1`, id))
	return tpl, mapError(err)
}

func (s *Store) ListTemplates(ctx context.Context) ([]models.EmailTemplate, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, content, created_at FROM email_templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.EmailTemplate{}
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, tpl models.EmailTemplate) (models.EmailTemplate, error) {
	const query = `UPDATE email_templates SET title = $2, content = $3 WHERE id = $1 RETURNING id, title, content, created_at`
	updated, err := scanTemplate(s.pool.QueryRow(ctx, query, tpl.ID, tpl.Title, tpl.Content))
	return updated, mapError(err)
}

func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	return expectOne(s.pool.Exec(ctx, `DELETE FROM email_templates WHERE id = $1`, id))
}

func scanTemplate(row pgx.Row) (models.EmailTemplate, error) {
	var tpl models.EmailTemplate
	err := row.Scan(&tpl.ID, &tpl.Title, &tpl.Content, &tpl.CreatedAt)
	return tpl, err
}
