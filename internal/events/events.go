package events

import "time"

// Topics published by the application.
const (
	TopicProspectCreated       = "prospect.created"
	TopicStageChanged          = "prospect.stage_changed"
	TopicFunnelCreated         = "funnel.created"
	TopicFunnelDeleted         = "funnel.deleted"
	TopicUserInvited           = "user.invited"
	TopicRegistrationInitiated = "registration.initiated"
)

// Event is one published fact. Payload is one of the types below.
type Event struct {
	Topic      string    `json:"topic"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with the current time.
func New(topic string, payload any) Event {
	return Event{Topic: topic, Payload: payload, OccurredAt: time.Now().UTC()}
}

type ProspectCreated struct {
	ProspectID int64 `json:"prospect_id"`
	FunnelID   int64 `json:"funnel_id"`
	ClientID   int64 `json:"client_id"`
	StageID    int64 `json:"stage_id"`
}

type StageChanged struct {
	ProspectID  int64  `json:"prospect_id"`
	FunnelID    int64  `json:"funnel_id"`
	FromStageID int64  `json:"from_stage_id"`
	ToStageID   int64  `json:"to_stage_id"`
	StageName   string `json:"stage_name"`
	ActivityID  int64  `json:"activity_id"`
}

type FunnelCreated struct {
	FunnelID int64  `json:"funnel_id"`
	Name     string `json:"name"`
}

type FunnelDeleted struct {
	FunnelID int64 `json:"funnel_id"`
}

// UserInvited carries the generated password to in-process subscribers only.
// It never serializes.
type UserInvited struct {
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	BusinessName string `json:"business_name"`
	Password     string `json:"-"`
}

// RegistrationInitiated carries a verification code to the mail subscriber.
type RegistrationInitiated struct {
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}
