package dto

import "github.com/hongminglow/pipeline-crm/internal/models"

type InitiateRegistrationRequest struct {
	Email string `json:"email"`
}

type CompleteRegistrationRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type RegisterBusinessRequest struct {
	Name   string `json:"name"`
	Color1 string `json:"color1"`
	Color2 string `json:"color2"`
	Color3 string `json:"color3"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type ResetPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type InvitationRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// InvitationUpdateRequest carries the invited user id in the body, as PUT
// /create-user-invitation has no path parameter.
type InvitationUpdateRequest struct {
	ID     int64   `json:"id"`
	Name   *string `json:"name"`
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

type ProfileUpdateRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type CreateRoleRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
}

type BusinessRegistrationResponse struct {
	Token    string          `json:"token"`
	User     models.User     `json:"user"`
	Business models.Business `json:"business"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
