// Package memstore is an in-process implementation of storage.Store used for
// local development and tests. All state sits behind one mutex, so every
// multi-row operation is atomic.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	seq map[string]int64

	users         map[int64]models.User
	businesses    map[int64]models.Business
	registrations map[string]models.Registration
	roles         map[int64]models.Role
	permissions   map[int64]models.Permission
	rolePerms     map[int64][]int64
	clients       map[int64]models.Client
	funnels       map[int64]models.Funnel
	stages        map[int64]models.FunnelStage
	prospects     map[int64]models.Prospect
	activities    map[int64]models.Activity
	tasks         map[int64]models.Task
	templates     map[int64]models.EmailTemplate
}

// New returns an empty store seeded with the default roles and permissions.
func New() *Store {
	s := &Store{
		now:           func() time.Time { return time.Now().UTC() },
		seq:           map[string]int64{},
		users:         map[int64]models.User{},
		businesses:    map[int64]models.Business{},
		registrations: map[string]models.Registration{},
		roles:         map[int64]models.Role{},
		permissions:   map[int64]models.Permission{},
		rolePerms:     map[int64][]int64{},
		clients:       map[int64]models.Client{},
		funnels:       map[int64]models.Funnel{},
		stages:        map[int64]models.FunnelStage{},
		prospects:     map[int64]models.Prospect{},
		activities:    map[int64]models.Activity{},
		tasks:         map[int64]models.Task{},
		templates:     map[int64]models.EmailTemplate{},
	}
	s.seed()
	return s
}

func (s *Store) Close() {}

func (s *Store) seed() {
	perms := []models.Permission{
		{Name: models.PermPipelineWrite, Description: "Create and change funnels, stages, prospects and activities"},
		{Name: models.PermClientsWrite, Description: "Create and change clients"},
		{Name: models.PermTasksWrite, Description: "Create and change tasks"},
		{Name: models.PermEmailsSend, Description: "Send bulk email"},
		{Name: models.PermTemplatesWrite, Description: "Create and change email templates"},
		{Name: models.PermInvitationsManage, Description: "Invite and manage users"},
		{Name: models.PermRolesManage, Description: "Create roles"},
	}
	var all, member []int64
	for _, p := range perms {
		p.ID = s.next("permissions")
		s.permissions[p.ID] = p
		all = append(all, p.ID)
		if p.Name != models.PermInvitationsManage && p.Name != models.PermRolesManage {
			member = append(member, p.ID)
		}
	}

	admin := models.Role{ID: s.next("roles"), Name: models.AdminRole, Description: "Full access, manages users and roles"}
	s.roles[admin.ID] = admin
	s.rolePerms[admin.ID] = all

	mem := models.Role{ID: s.next("roles"), Name: models.MemberRole, Description: "Works the pipeline"}
	s.roles[mem.ID] = mem
	s.rolePerms[mem.ID] = member
}

func (s *Store) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d", storage.ErrNotFound, kind, id)
}

func invalidRef(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d", storage.ErrInvalidReference, kind, id)
}

// Users

func (s *Store) CreateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUserRefs(user); err != nil {
		return models.User{}, err
	}
	if s.emailTaken(user.Email, 0) {
		return models.User{}, fmt.Errorf("%w: users_email_key", storage.ErrAlreadyExists)
	}
	if user.Status == "" {
		user.Status = models.StatusActive
	}
	user.ID = s.next("users")
	user.CreatedAt = s.now()
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) checkUserRefs(user models.User) error {
	if !s.roleExists(user.Role) {
		return fmt.Errorf("%w: role %q", storage.ErrInvalidReference, user.Role)
	}
	if user.BusinessID != nil {
		if _, ok := s.businesses[*user.BusinessID]; !ok {
			return invalidRef("business", *user.BusinessID)
		}
	}
	return nil
}

func (s *Store) emailTaken(email string, exceptID int64) bool {
	for _, u := range s.users {
		if u.ID != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (s *Store) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, storage.ErrNotFound
}

func (s *Store) FindByID(_ context.Context, id int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) ListUsersByBusiness(_ context.Context, businessID int64) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []models.User{}
	for _, id := range sortedKeys(s.users) {
		u := s.users[id]
		if u.BusinessID != nil && *u.BusinessID == businessID {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok {
		return models.User{}, notFound("user", user.ID)
	}
	if err := s.checkUserRefs(user); err != nil {
		return models.User{}, err
	}
	if s.emailTaken(user.Email, user.ID) {
		return models.User{}, fmt.Errorf("%w: users_email_key", storage.ErrAlreadyExists)
	}
	current.Email = user.Email
	current.Name = user.Name
	current.Role = user.Role
	current.BusinessID = user.BusinessID
	current.Status = user.Status
	s.users[user.ID] = current
	return current, nil
}

func (s *Store) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.PasswordHash = passwordHash
	s.users[id] = u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return notFound("user", id)
	}
	delete(s.users, id)
	for tid, t := range s.tasks {
		if t.AssignedTo != nil && *t.AssignedTo == id {
			t.AssignedTo = nil
			s.tasks[tid] = t
		}
	}
	return nil
}

// Businesses and registrations

func (s *Store) CreateBusinessForUser(_ context.Context, business models.Business, userID int64) (models.Business, models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return models.Business{}, models.User{}, notFound("user", userID)
	}
	business.ID = s.next("businesses")
	business.CreatedAt = s.now()
	s.businesses[business.ID] = business

	bid := business.ID
	user.BusinessID = &bid
	user.Status = models.StatusActive
	s.users[userID] = user
	return business, user, nil
}

func (s *Store) CreateBusinessWithOwner(_ context.Context, business models.Business, owner models.User) (models.Business, models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner.BusinessID = nil
	if err := s.checkUserRefs(owner); err != nil {
		return models.Business{}, models.User{}, err
	}
	if s.emailTaken(owner.Email, 0) {
		return models.Business{}, models.User{}, fmt.Errorf("%w: users_email_key", storage.ErrAlreadyExists)
	}
	business.ID = s.next("businesses")
	business.CreatedAt = s.now()
	s.businesses[business.ID] = business

	bid := business.ID
	owner.BusinessID = &bid
	owner.Status = models.StatusActive
	owner.ID = s.next("users")
	owner.CreatedAt = s.now()
	s.users[owner.ID] = owner
	return business, owner, nil
}

func (s *Store) GetBusiness(_ context.Context, id int64) (models.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return models.Business{}, notFound("business", id)
	}
	return b, nil
}

func (s *Store) SaveRegistration(_ context.Context, reg models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg.Email = strings.ToLower(reg.Email)
	s.registrations[reg.Email] = reg
	return nil
}

func (s *Store) ConsumeRegistration(_ context.Context, email, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	reg, ok := s.registrations[key]
	if !ok || reg.Code != code || !reg.ExpiresAt.After(now) {
		return storage.ErrNotFound
	}
	delete(s.registrations, key)
	return nil
}

// Roles

func (s *Store) ListRoles(_ context.Context) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := []models.Role{}
	for _, id := range sortedKeys(s.roles) {
		roles = append(roles, s.roleWithPermissions(s.roles[id]))
	}
	return roles, nil
}

func (s *Store) roleWithPermissions(role models.Role) models.Role {
	names := []string{}
	for _, pid := range s.rolePerms[role.ID] {
		names = append(names, s.permissions[pid].Name)
	}
	sort.Strings(names)
	role.Permissions = names
	return role
}

func (s *Store) ListPermissions(_ context.Context) ([]models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := []models.Permission{}
	for _, id := range sortedKeys(s.permissions) {
		perms = append(perms, s.permissions[id])
	}
	return perms, nil
}

func (s *Store) CreateRole(_ context.Context, role models.Role, permissionIDs []int64) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roleExists(role.Name) {
		return models.Role{}, fmt.Errorf("%w: roles_name_key", storage.ErrAlreadyExists)
	}
	seen := map[int64]bool{}
	linked := []int64{}
	for _, pid := range permissionIDs {
		if _, ok := s.permissions[pid]; !ok {
			return models.Role{}, invalidRef("permission", pid)
		}
		if !seen[pid] {
			seen[pid] = true
			linked = append(linked, pid)
		}
	}
	role.ID = s.next("roles")
	s.roles[role.ID] = models.Role{ID: role.ID, Name: role.Name, Description: role.Description}
	s.rolePerms[role.ID] = linked
	return s.roleWithPermissions(s.roles[role.ID]), nil
}

func (s *Store) RoleExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roleExists(name), nil
}

func (s *Store) roleExists(name string) bool {
	for _, r := range s.roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Clients

func (s *Store) CreateClient(_ context.Context, c models.Client) (models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.next("clients")
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) GetClient(_ context.Context, id int64) (models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return models.Client{}, notFound("client", id)
	}
	return c, nil
}

func (s *Store) ListClients(_ context.Context) ([]models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := []models.Client{}
	for _, id := range sortedKeys(s.clients) {
		clients = append(clients, s.clients[id])
	}
	return clients, nil
}

func (s *Store) UpdateClient(_ context.Context, c models.Client) (models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.clients[c.ID]
	if !ok {
		return models.Client{}, notFound("client", c.ID)
	}
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = s.now()
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) DeleteClient(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return notFound("client", id)
	}
	for _, p := range s.prospects {
		if p.ClientID == id {
			return fmt.Errorf("%w: client %d has prospects", storage.ErrInUse, id)
		}
	}
	delete(s.clients, id)
	return nil
}

// Email templates

func (s *Store) CreateTemplate(_ context.Context, tpl models.EmailTemplate) (models.EmailTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl.ID = s.next("templates")
	tpl.CreatedAt = s.now()
	s.templates[tpl.ID] = tpl
	return tpl, nil
}

func (s *Store) GetTemplate(_ context.Context, id int64) (models.EmailTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return models.EmailTemplate{}, notFound("template", id)
	}
	return tpl, nil
}

func (s *Store) ListTemplates(_ context.Context) ([]models.EmailTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates := []models.EmailTemplate{}
	for _, id := range sortedKeys(s.templates) {
		templates = append(templates, s.templates[id])
	}
	return templates, nil
}

func (s *Store) UpdateTemplate(_ context.Context, tpl models.EmailTemplate) (models.EmailTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.templates[tpl.ID]
	if !ok {
		return models.EmailTemplate{}, notFound("template", tpl.ID)
	}
	current.Title = tpl.Title
	current.Content = tpl.Content
	s.templates[tpl.ID] = current
	return current, nil
}

func (s *Store) DeleteTemplate(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return notFound("template", id)
	}
	delete(s.templates, id)
	return nil
}
