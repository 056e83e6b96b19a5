package dto

import "time"

type StageInput struct {
	Name     string `json:"name"`
	Position *int   `json:"position,omitempty"`
}

type CreateFunnelRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Stages      []StageInput `json:"stages"`
}

type UpdateFunnelRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type CreateStageRequest struct {
	FunnelID int64  `json:"funnel_id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type UpdateStageRequest struct {
	Name     *string `json:"name"`
	Position *int    `json:"position"`
}

type CreateProspectRequest struct {
	FunnelID int64  `json:"funnel_id"`
	ClientID int64  `json:"client_id"`
	StageID  *int64 `json:"stage_id"`
}

// StageTransitionRequest moves a prospect. StageName is the display name the
// caller saw; the stored stage name wins when they differ.
type StageTransitionRequest struct {
	StageID   int64  `json:"stage_id"`
	StageName string `json:"stage_name"`
}

type ActivityRequest struct {
	ProspectID   int64      `json:"prospect_id"`
	ActivityType string     `json:"activity_type"`
	ActivityDate *time.Time `json:"activity_date"`
	Notes        string     `json:"notes"`
}

type ClientRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
	Notes   string `json:"notes"`
}

type TaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date"`
	AssignedTo  *int64     `json:"assigned_to"`
	ProspectID  *int64     `json:"prospect_id"`
}

type TaskStatusRequest struct {
	Status string `json:"status"`
}

type TemplateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// GenerateTemplateRequest renders a template body against one prospect for preview.
type GenerateTemplateRequest struct {
	TemplateID *int64 `json:"template_id"`
	Content    string `json:"content"`
	ProspectID int64  `json:"prospect_id"`
}

type SendEmailsRequest struct {
	FunnelID   *int64 `json:"funnel_id"`
	StageID    *int64 `json:"stage_id"`
	TemplateID *int64 `json:"template_id"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
}
