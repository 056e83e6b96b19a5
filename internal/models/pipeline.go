package models

import "time"

// ActivityStageChange is the activity type recorded by a stage transition.
const ActivityStageChange = "stage_change"

// Funnel is a named sales pipeline. Stages are always ordered by ascending position.
type Funnel struct {
	ID          int64         `json:"funnel_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Stages      []FunnelStage `json:"stages"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type FunnelStage struct {
	ID       int64  `json:"id"`
	FunnelID int64  `json:"funnel_id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Prospect is a client's candidacy in one funnel. StageID always references a
// stage of the same funnel.
type Prospect struct {
	ID        int64     `json:"prospect_id"`
	FunnelID  int64     `json:"funnel_id"`
	ClientID  int64     `json:"client_id"`
	StageID   int64     `json:"stage_id"`
	StageName string    `json:"stage_name,omitempty"`
	Client    *Client   `json:"client,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Activity struct {
	ID           int64     `json:"activity_id"`
	ProspectID   int64     `json:"prospect_id"`
	ActivityType string    `json:"activity_type"`
	ActivityDate time.Time `json:"activity_date"`
	Notes        string    `json:"notes"`
}

// Recipient is a prospect joined with its client's address, used by bulk email.
type Recipient struct {
	ProspectID int64  `json:"prospect_id"`
	ClientID   int64  `json:"client_id"`
	ClientName string `json:"client_name"`
	Company    string `json:"company"`
	Email      string `json:"email"`
	FunnelName string `json:"funnel_name"`
	StageName  string `json:"stage_name"`
}

// ProspectFilter narrows a prospect query. Nil fields do not filter.
type ProspectFilter struct {
	FunnelID *int64
	StageID  *int64
}
