package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"

	"github.com/hongminglow/pipeline-crm/internal/models"
)

// Role-based model: a role is granted object:action pairs, "*" matches anything.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// RoleSource supplies the persisted role to permission grants.
type RoleSource interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
}

// Enforcer answers whether a role holds a permission. Policies are loaded from
// the role store and can be extended at runtime when roles are created.
type Enforcer struct {
	mu sync.RWMutex
	e  *casbin.Enforcer
}

// NewEnforcer builds an enforcer loaded with every role from src.
func NewEnforcer(ctx context.Context, src RoleSource) (*Enforcer, error) {
	enf := &Enforcer{}
	if err := enf.Reload(ctx, src); err != nil {
		return nil, err
	}
	return enf, nil
}

// Reload rebuilds the policy set from src and swaps it in.
func (e *Enforcer) Reload(ctx context.Context, src RoleSource) error {
	roles, err := src.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}

	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return fmt.Errorf("parse casbin model: %w", err)
	}
	fresh, err := casbin.NewEnforcer(m)
	if err != nil {
		return fmt.Errorf("create enforcer: %w", err)
	}
	// Admin is never locked out, whatever the stored grants say.
	if _, err := fresh.AddPolicy(models.AdminRole, "*", "*"); err != nil {
		return err
	}
	for _, role := range roles {
		if err := addGrants(fresh, role); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.e = fresh
	e.mu.Unlock()
	return nil
}

// AddRole loads a newly created role's grants into the live policy set.
func (e *Enforcer) AddRole(role models.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return addGrants(e.e, role)
}

// Allowed reports whether role holds permission, given as "object:action".
func (e *Enforcer) Allowed(role, permission string) (bool, error) {
	obj, act := models.SplitPermission(permission)

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.e.Enforce(role, obj, act)
}

func addGrants(enf *casbin.Enforcer, role models.Role) error {
	for _, perm := range role.Permissions {
		obj, act := models.SplitPermission(perm)
		if _, err := enf.AddPolicy(role.Name, obj, act); err != nil {
			return fmt.Errorf("add policy %s %s: %w", role.Name, perm, err)
		}
	}
	return nil
}
