package models

import "strings"

const (
	AdminRole  = "Admin"
	MemberRole = "Member"
)

// Seeded permission names.
const (
	PermPipelineWrite     = "pipeline:write"
	PermClientsWrite      = "clients:write"
	PermTasksWrite        = "tasks:write"
	PermEmailsSend        = "emails:send"
	PermTemplatesWrite    = "templates:write"
	PermInvitationsManage = "invitations:manage"
	PermRolesManage       = "roles:manage"
)

type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// Permission names are shaped "object:action".
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SplitPermission returns the object and action halves of a permission name.
// Names without a colon yield an empty action.
func SplitPermission(name string) (object, action string) {
	object, action, _ = strings.Cut(name, ":")
	return object, action
}

// AdminOnly reports whether a permission may only be held by the Admin role.
func AdminOnly(permission string) bool {
	return permission == PermInvitationsManage || permission == PermRolesManage
}
