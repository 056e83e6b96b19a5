package models

import "time"

// User statuses.
const (
	StatusActive          = "Active"
	StatusPendingBusiness = "PENDING_BUSINESS"
)

// User captures application-facing fields for an authenticated identity.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	BusinessID   *int64    `json:"business_id,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Business owns users and carries the branding colors shown by the UI.
type Business struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color1    string    `json:"color1"`
	Color2    string    `json:"color2"`
	Color3    string    `json:"color3"`
	CreatedAt time.Time `json:"created_at"`
}

// Registration is a pending email verification issued before a user row exists.
type Registration struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}
