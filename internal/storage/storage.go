package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hongminglow/pipeline-crm/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrInvalidReference indicates a write pointed at a missing or mismatched parent row.
var ErrInvalidReference = errors.New("invalid reference")

// ErrInUse indicates a delete was refused because other rows still reference the record.
var ErrInUse = errors.New("record is still referenced")

// UserStore captures persistence operations needed by auth and invitation handlers.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	ListUsersByBusiness(ctx context.Context, businessID int64) ([]models.User, error)
	UpdateUser(ctx context.Context, user models.User) (models.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	DeleteUser(ctx context.Context, id int64) error
}

// BusinessStore creates businesses during registration.
type BusinessStore interface {
	// CreateBusinessForUser inserts the business and attaches the user to it,
	// marking the user Active, in one transaction.
	CreateBusinessForUser(ctx context.Context, business models.Business, userID int64) (models.Business, models.User, error)
	// CreateBusinessWithOwner inserts the business and a new Active owner of
	// it in one transaction.
	CreateBusinessWithOwner(ctx context.Context, business models.Business, owner models.User) (models.Business, models.User, error)
	GetBusiness(ctx context.Context, id int64) (models.Business, error)
}

// RegistrationStore keeps pending email verification codes.
type RegistrationStore interface {
	SaveRegistration(ctx context.Context, reg models.Registration) error
	// ConsumeRegistration deletes a matching, unexpired code. Missing, expired
	// or mismatched codes return ErrNotFound.
	ConsumeRegistration(ctx context.Context, email, code string, now time.Time) error
}

type RoleStore interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	// CreateRole inserts the role and its permission links atomically. Unknown
	// permission ids return ErrInvalidReference and persist nothing.
	CreateRole(ctx context.Context, role models.Role, permissionIDs []int64) (models.Role, error)
	RoleExists(ctx context.Context, name string) (bool, error)
}

type ClientStore interface {
	CreateClient(ctx context.Context, client models.Client) (models.Client, error)
	GetClient(ctx context.Context, id int64) (models.Client, error)
	ListClients(ctx context.Context) ([]models.Client, error)
	UpdateClient(ctx context.Context, client models.Client) (models.Client, error)
	DeleteClient(ctx context.Context, id int64) error
}

type FunnelStore interface {
	// CreateFunnel inserts the funnel and funnel.Stages in one transaction.
	CreateFunnel(ctx context.Context, funnel models.Funnel) (models.Funnel, error)
	GetFunnel(ctx context.Context, id int64) (models.Funnel, error)
	ListFunnels(ctx context.Context) ([]models.Funnel, error)
	UpdateFunnel(ctx context.Context, funnel models.Funnel) (models.Funnel, error)
	// DeleteFunnelCascade removes the funnel's prospects' activities, its
	// prospects, its stages and the funnel itself in one transaction.
	DeleteFunnelCascade(ctx context.Context, id int64) error

	CreateStage(ctx context.Context, stage models.FunnelStage) (models.FunnelStage, error)
	GetStage(ctx context.Context, id int64) (models.FunnelStage, error)
	ListStages(ctx context.Context, funnelID int64) ([]models.FunnelStage, error)
	UpdateStage(ctx context.Context, stage models.FunnelStage) (models.FunnelStage, error)
	DeleteStage(ctx context.Context, id int64) error
}

// ActivityBuilder produces the activity recorded alongside a stage change,
// given the stage the prospect is moving into.
type ActivityBuilder func(stage models.FunnelStage) models.Activity

type ProspectStore interface {
	CreateProspect(ctx context.Context, prospect models.Prospect) (models.Prospect, error)
	GetProspect(ctx context.Context, id int64) (models.Prospect, error)
	ListProspectsByFunnel(ctx context.Context, funnelID int64) ([]models.Prospect, error)
	DeleteProspect(ctx context.Context, id int64) error
	// TransitionStage updates the prospect's stage and inserts the built
	// activity in one transaction. A stage from another funnel returns
	// ErrInvalidReference.
	TransitionStage(ctx context.Context, prospectID, stageID int64, build ActivityBuilder) (models.Prospect, models.Activity, error)
	ListRecipients(ctx context.Context, filter models.ProspectFilter) ([]models.Recipient, error)
}

type ActivityStore interface {
	CreateActivity(ctx context.Context, activity models.Activity) (models.Activity, error)
	GetActivity(ctx context.Context, id int64) (models.Activity, error)
	ListActivitiesByProspect(ctx context.Context, prospectID int64) ([]models.Activity, error)
	UpdateActivity(ctx context.Context, activity models.Activity) (models.Activity, error)
	DeleteActivity(ctx context.Context, id int64) error
}

type TaskStore interface {
	CreateTask(ctx context.Context, task models.Task) (models.Task, error)
	GetTask(ctx context.Context, id int64) (models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	UpdateTask(ctx context.Context, task models.Task) (models.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status string) (models.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl models.EmailTemplate) (models.EmailTemplate, error)
	GetTemplate(ctx context.Context, id int64) (models.EmailTemplate, error)
	ListTemplates(ctx context.Context) ([]models.EmailTemplate, error)
	UpdateTemplate(ctx context.Context, tpl models.EmailTemplate) (models.EmailTemplate, error)
	DeleteTemplate(ctx context.Context, id int64) error
}

// Store is the full persistence surface injected into the server.
type Store interface {
	UserStore
	BusinessStore
	RegistrationStore
	RoleStore
	ClientStore
	FunnelStore
	ProspectStore
	ActivityStore
	TaskStore
	TemplateStore
	Close()
}
