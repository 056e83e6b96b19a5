package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/authz"
	"github.com/hongminglow/pipeline-crm/internal/config"
	"github.com/hongminglow/pipeline-crm/internal/events"
	"github.com/hongminglow/pipeline-crm/internal/mail"
	"github.com/hongminglow/pipeline-crm/internal/middleware"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/notify"
	"github.com/hongminglow/pipeline-crm/internal/storage"
	"github.com/hongminglow/pipeline-crm/internal/storage/memstore"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	fail string
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.To == m.fail {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) to(addr string) []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mail.Message
	for _, msg := range m.sent {
		if msg.To == addr {
			out = append(out, msg)
		}
	}
	return out
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	t      *testing.T
	router http.Handler
	store  *memstore.Store
	bus    *events.Bus
	mailer *recordingMailer
	tokens *auth.TokenManager
	policy *authz.Enforcer

	admin       models.User
	adminToken  string
	memberToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store := memstore.New()
	bus := events.NewBus(logger)
	t.Cleanup(bus.Close)
	mailer := &recordingMailer{fail: "bounce@example.com"}
	notify.Register(bus, mailer, logger)

	enforcer, err := authz.NewEnforcer(ctx, store)
	require.NoError(t, err)
	tokens := auth.NewTokenManager("test-secret", "crm-test", time.Hour)

	cfg := config.Config{
		CORSOrigins:       []string{"*"},
		EmailConcurrency:  4,
		AuthRatePerMinute: 600,
		AuthRateBurst:     100,
	}
	router := NewRouter(Deps{
		Config:   cfg,
		Store:    store,
		Tokens:   tokens,
		Enforcer: enforcer,
		Bus:      bus,
		Mailer:   mailer,
		Logger:   logger,
	})

	hash, err := auth.HashPassword("admin-password")
	require.NoError(t, err)
	admin, err := store.CreateUser(ctx, models.User{
		Email:        "admin@example.com",
		Name:         "Admin",
		PasswordHash: hash,
		Role:         models.AdminRole,
		Status:       models.StatusPendingBusiness,
	})
	require.NoError(t, err)
	_, admin, err = store.CreateBusinessForUser(ctx, models.Business{Name: "Acme"}, admin.ID)
	require.NoError(t, err)

	member, err := store.CreateUser(ctx, models.User{
		Email:      "member@example.com",
		Name:       "Member",
		Role:       models.MemberRole,
		BusinessID: admin.BusinessID,
		Status:     models.StatusActive,
	})
	require.NoError(t, err)

	env := &testEnv{t: t, router: router, store: store, bus: bus, mailer: mailer, tokens: tokens, policy: enforcer, admin: admin}
	env.adminToken = env.token(admin)
	env.memberToken = env.token(member)
	return env
}

func (e *testEnv) token(user models.User) string {
	e.t.Helper()
	token, err := e.tokens.Generate(user)
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

// createPipeline sets up a funnel with Lead and Negotiation stages and one prospect in Lead.
func (e *testEnv) createPipeline(clientEmail string) (models.Funnel, models.Prospect) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/funnels", e.adminToken, map[string]any{
		"name":   "Sales " + clientEmail,
		"stages": []map[string]any{{"name": "Lead"}, {"name": "Negotiation"}},
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	funnel := decode[models.Funnel](e.t, rec)

	rec = e.do(http.MethodPost, "/clients", e.adminToken, map[string]any{
		"name":    "Ada Lovelace",
		"email":   clientEmail,
		"company": "Engines",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	client := decode[models.Client](e.t, rec)

	rec = e.do(http.MethodPost, "/prospects/funnel", e.adminToken, map[string]any{
		"funnel_id": funnel.ID,
		"client_id": client.ID,
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return funnel, decode[models.Prospect](e.t, rec)
}

func TestHealthCarriesRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = env.do(http.MethodGet, "/clients/999", env.adminToken, nil)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/clients", "/funnels", "/user", "/createroles", "/tasks"} {
		rec := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := env.do(http.MethodGet, "/clients", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMemberIsForbiddenFromAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(http.MethodPost, "/create-user-invitation", env.memberToken, map[string]any{
		"email": "sneaky@example.com",
		"name":  "Sneaky",
		"role":  models.AdminRole,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err := env.store.FindByEmail(ctx, "sneaky@example.com")
	assert.Error(t, err)

	rec = env.do(http.MethodPost, "/createroles", env.memberToken, map[string]any{
		"name":           "Shadow",
		"permission_ids": []int64{1},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	exists, err := env.store.RoleExists(ctx, "Shadow")
	require.NoError(t, err)
	assert.False(t, exists)

	rec = env.do(http.MethodGet, "/create-user-invitation", env.memberToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/funnels", env.memberToken, map[string]any{"name": "Member funnel"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMissingEntitiesAnswer404(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		method string
		path   string
		body   any
		want   string
	}{
		{http.MethodGet, "/clients/999", nil, "client not found"},
		{http.MethodPut, "/clients/999", map[string]any{"name": "Ghost"}, "client not found"},
		{http.MethodDelete, "/clients/999", nil, "client not found"},
		{http.MethodGet, "/activity/999", nil, "activity not found"},
		{http.MethodDelete, "/activity/999", nil, "activity not found"},
		{http.MethodPut, "/tasks/999", map[string]any{"title": "Ghost"}, "task not found"},
		{http.MethodPut, "/tasks/999/status", map[string]any{"status": "completed"}, "task not found"},
		{http.MethodGet, "/funnels/999", nil, "funnel not found"},
		{http.MethodDelete, "/funnels/999", nil, "funnel not found"},
		{http.MethodGet, "/funnel-stages/999", nil, "stage not found"},
		{http.MethodGet, "/prospects/999", nil, "prospect not found"},
		{http.MethodGet, "/email-template/999", nil, "template not found"},
		{http.MethodGet, "/create-user-invitation/999", nil, "user not found"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := env.do(tc.method, tc.path, env.adminToken, tc.body)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, tc.want, errorOf(t, rec))
		})
	}

	rec := env.do(http.MethodGet, "/clients/abc", env.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStageTransitionRecordsActivity(t *testing.T) {
	env := newTestEnv(t)
	funnel, prospect := env.createPipeline("ada@example.com")
	require.Equal(t, funnel.Stages[0].ID, prospect.StageID)

	rec := env.do(http.MethodPut, fmt.Sprintf("/prospects/%d/stage", prospect.ID), env.adminToken, map[string]any{
		"stage_id":   funnel.Stages[1].ID,
		"stage_name": "Something else",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[struct {
		Prospect models.Prospect `json:"prospect"`
		Activity models.Activity `json:"activity"`
	}](t, rec)
	assert.Equal(t, funnel.Stages[1].ID, moved.Prospect.StageID)
	assert.Contains(t, moved.Activity.Notes, "Negotiation")
	assert.Equal(t, models.ActivityStageChange, moved.Activity.ActivityType)

	rec = env.do(http.MethodGet, fmt.Sprintf("/activity/prospects/%d", prospect.ID), env.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activities := decode[[]models.Activity](t, rec)
	require.Len(t, activities, 1)
	assert.Equal(t, "Stage changed to Negotiation", activities[0].Notes)

	other, _ := env.createPipeline("grace@example.com")
	rec = env.do(http.MethodPut, fmt.Sprintf("/prospects/%d/stage", prospect.ID), env.adminToken, map[string]any{
		"stage_id": other.Stages[0].ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPut, fmt.Sprintf("/prospects/%d/stage", prospect.ID), env.adminToken, map[string]any{
		"stage_id": 9999,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "stage not found", errorOf(t, rec))

	rec = env.do(http.MethodPut, "/prospects/9999/stage", env.adminToken, map[string]any{
		"stage_id": funnel.Stages[0].ID,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "prospect not found", errorOf(t, rec))

	activities, err := env.store.ListActivitiesByProspect(context.Background(), prospect.ID)
	require.NoError(t, err)
	assert.Len(t, activities, 1)
}

func TestFunnelDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	funnel, prospect := env.createPipeline("ada@example.com")

	rec := env.do(http.MethodPost, "/activity", env.adminToken, map[string]any{
		"prospect_id":   prospect.ID,
		"activity_type": "call",
		"notes":         "Intro call",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	activity := decode[models.Activity](t, rec)

	rec = env.do(http.MethodDelete, fmt.Sprintf("/funnels/%d", funnel.ID), env.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, path := range []string{
		fmt.Sprintf("/funnels/%d", funnel.ID),
		fmt.Sprintf("/prospects/%d", prospect.ID),
		fmt.Sprintf("/funnel-stages/%d", funnel.Stages[0].ID),
		fmt.Sprintf("/activity/%d", activity.ID),
	} {
		rec := env.do(http.MethodGet, path, env.adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec = env.do(http.MethodDelete, fmt.Sprintf("/funnels/%d", funnel.ID), env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFunnelStageValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/funnels", env.adminToken, map[string]any{
		"name":   "Mixed",
		"stages": []map[string]any{{"name": "A", "position": 1}, {"name": "B"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/funnels", env.adminToken, map[string]any{
		"name":   "Dupes",
		"stages": []map[string]any{{"name": "A", "position": 2}, {"name": "B", "position": 2}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/funnels", env.adminToken, map[string]any{
		"name":   "Ordered",
		"stages": []map[string]any{{"name": "Won", "position": 3}, {"name": "Lead", "position": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	funnel := decode[models.Funnel](t, rec)
	require.Len(t, funnel.Stages, 2)
	assert.Equal(t, "Lead", funnel.Stages[0].Name)

	rec = env.do(http.MethodPost, "/funnel-stages", env.adminToken, map[string]any{
		"funnel_id": funnel.ID,
		"name":      "Clash",
		"position":  3,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, fmt.Sprintf("/prospects/stages/%d", funnel.ID), env.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.FunnelStage](t, rec), 2)
}

func TestSendEmails(t *testing.T) {
	env := newTestEnv(t)
	funnel, _ := env.createPipeline("ada@example.com")

	rec := env.do(http.MethodPost, "/clients", env.adminToken, map[string]any{"name": "Bob Bounce", "email": "bounce@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bob := decode[models.Client](t, rec)
	rec = env.do(http.MethodPost, "/prospects/funnel", env.adminToken, map[string]any{"funnel_id": funnel.ID, "client_id": bob.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/sendemails", env.adminToken, map[string]any{
		"funnel_id": funnel.ID,
		"subject":   "Hello {first_name}",
		"message":   "Greetings from {company}",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[struct {
		Sent    int `json:"sent"`
		Failed  int `json:"failed"`
		Results []struct {
			Email  string `json:"email"`
			Status string `json:"status"`
		} `json:"results"`
	}](t, rec)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Results, 2)

	sent := env.mailer.to("ada@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, "Hello Ada", sent[0].Subject)
	assert.Equal(t, "Greetings from Engines", sent[0].Body)

	rec = env.do(http.MethodPost, "/funnels", env.adminToken, map[string]any{"name": "Empty", "stages": []map[string]any{{"name": "Lead"}}})
	require.Equal(t, http.StatusCreated, rec.Code)
	empty := decode[models.Funnel](t, rec)

	before := env.mailer.count()
	rec = env.do(http.MethodPost, "/sendemails", env.adminToken, map[string]any{
		"funnel_id": empty.ID,
		"subject":   "Hello",
		"message":   "Anyone?",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no recipients", errorOf(t, rec))
	assert.Equal(t, before, env.mailer.count())
}

func TestSendEmailsFromTemplate(t *testing.T) {
	env := newTestEnv(t)
	funnel, prospect := env.createPipeline("ada@example.com")

	rec := env.do(http.MethodPost, "/email-template/save", env.adminToken, map[string]any{
		"title":   "Update for {name}",
		"content": "You are in {stage} of {funnel}.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tpl := decode[models.EmailTemplate](t, rec)

	rec = env.do(http.MethodPost, "/email-template/generate", env.adminToken, map[string]any{
		"template_id": tpl.ID,
		"prospect_id": prospect.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[map[string]any](t, rec)
	assert.Equal(t, "Update for Ada Lovelace", preview["title"])
	assert.Equal(t, "You are in Lead of "+funnel.Name+".", preview["content"])

	rec = env.do(http.MethodPost, "/sendemails", env.adminToken, map[string]any{
		"stage_id":    funnel.Stages[0].ID,
		"template_id": tpl.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := env.mailer.to("ada@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, "Update for Ada Lovelace", sent[0].Subject)
}

func TestInvitationFlow(t *testing.T) {
	env := newTestEnv(t)
	invite := map[string]any{"email": "new@example.com", "name": "New Hire", "role": models.MemberRole}

	rec := env.do(http.MethodPost, "/create-user-invitation", env.adminToken, invite)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")
	user := decode[models.User](t, rec)
	assert.Equal(t, models.StatusActive, user.Status)
	require.NotNil(t, user.BusinessID)
	assert.Equal(t, *env.admin.BusinessID, *user.BusinessID)

	rec = env.do(http.MethodPost, "/create-user-invitation", env.adminToken, invite)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/create-user-invitation", env.adminToken, map[string]any{
		"email": "other@example.com",
		"role":  "Ghost",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.bus.Close()
	welcome := env.mailer.to("new@example.com")
	require.Len(t, welcome, 1)
	assert.Empty(t, env.mailer.to("other@example.com"))

	rec = env.do(http.MethodGet, "/create-user-invitation", env.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.User](t, rec), 3)

	rec = env.do(http.MethodPut, "/create-user-invitation", env.adminToken, map[string]any{
		"id":     user.ID,
		"role":   models.AdminRole,
		"status": "Suspended",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPut, "/create-user-invitation", env.adminToken, map[string]any{
		"id":   user.ID,
		"name": "Promoted",
		"role": models.AdminRole,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.User](t, rec)
	assert.Equal(t, models.AdminRole, updated.Role)
	assert.Equal(t, "Promoted", updated.Name)
	assert.Equal(t, models.StatusActive, updated.Status)

	rec = env.do(http.MethodDelete, fmt.Sprintf("/create-user-invitation/%d", env.admin.ID), env.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodDelete, fmt.Sprintf("/create-user-invitation/%d", user.ID), env.adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, fmt.Sprintf("/create-user-invitation/%d", user.ID), env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(http.MethodGet, "/createroles/permissions", env.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	perms := decode[[]models.Permission](t, rec)
	var clientsWrite int64
	for _, p := range perms {
		if p.Name == models.PermClientsWrite {
			clientsWrite = p.ID
		}
	}
	require.NotZero(t, clientsWrite)

	rec = env.do(http.MethodPost, "/createroles", env.adminToken, map[string]any{
		"name":           "Broken",
		"permission_ids": []int64{clientsWrite, 9999},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	exists, err := env.store.RoleExists(ctx, "Broken")
	require.NoError(t, err)
	assert.False(t, exists)

	rec = env.do(http.MethodPost, "/createroles", env.adminToken, map[string]any{
		"name":           "Sales",
		"description":    "Client desk",
		"permission_ids": []int64{clientsWrite},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	role := decode[models.Role](t, rec)
	assert.Equal(t, []string{models.PermClientsWrite}, role.Permissions)

	rec = env.do(http.MethodPost, "/createroles", env.adminToken, map[string]any{
		"name":           "Sales",
		"permission_ids": []int64{clientsWrite},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	seller, err := env.store.CreateUser(ctx, models.User{
		Email:      "seller@example.com",
		Role:       "Sales",
		BusinessID: env.admin.BusinessID,
		Status:     models.StatusActive,
	})
	require.NoError(t, err)
	token := env.token(seller)

	rec = env.do(http.MethodPost, "/clients", token, map[string]any{"name": "Grace"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/funnels", token, map[string]any{"name": "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCRUDFlows(t *testing.T) {
	cases := []struct {
		name   string
		base   string
		create string
		idKey  string
		body   map[string]any
		update map[string]any
	}{
		{
			name:   "task",
			base:   "/tasks",
			create: "/tasks",
			idKey:  "task_id",
			body:   map[string]any{"title": "Call Ada", "description": "intro"},
			update: map[string]any{"title": "Call Ada again", "description": "follow-up"},
		},
		{
			name:   "client",
			base:   "/clients",
			create: "/clients",
			idKey:  "client_id",
			body:   map[string]any{"name": "Grace", "email": "grace@example.com"},
			update: map[string]any{"name": "Grace Hopper", "email": "grace@example.com", "company": "Navy"},
		},
		{
			name:   "email template",
			base:   "/email-template",
			create: "/email-template/save",
			idKey:  "id",
			body:   map[string]any{"title": "Hi", "content": "Hello {first_name}"},
			update: map[string]any{"title": "Hello", "content": "Hi {name}, from {company}"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(http.MethodPost, tc.create, env.adminToken, tc.body)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			created := decode[map[string]any](t, rec)
			id, ok := created[tc.idKey].(float64)
			require.True(t, ok, "missing %s in %v", tc.idKey, created)
			item := fmt.Sprintf("%s/%d", tc.base, int64(id))

			rec = env.do(http.MethodPut, item, env.adminToken, tc.update)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			updated := decode[map[string]any](t, rec)
			for key, want := range tc.update {
				assert.Equal(t, want, updated[key], key)
			}

			rec = env.do(http.MethodGet, item, env.adminToken, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			fetched := decode[map[string]any](t, rec)
			for key, want := range tc.update {
				assert.Equal(t, want, fetched[key], key)
			}

			rec = env.do(http.MethodDelete, item, env.adminToken, nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			rec = env.do(http.MethodGet, item, env.adminToken, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			rec = env.do(http.MethodDelete, item, env.adminToken, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			rec = env.do(http.MethodPut, item, env.adminToken, tc.update)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestTaskUpdateKeepsStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/tasks", env.adminToken, map[string]any{"title": "Send contract"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decode[models.Task](t, rec)
	assert.Equal(t, "pending", task.Status)
	item := fmt.Sprintf("/tasks/%d", task.ID)

	rec = env.do(http.MethodPut, item+"/status", env.adminToken, map[string]any{"status": "done"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "done", decode[models.Task](t, rec).Status)

	rec = env.do(http.MethodPut, item, env.adminToken, map[string]any{"title": "Send signed contract"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	task = decode[models.Task](t, rec)
	assert.Equal(t, "Send signed contract", task.Title)
	assert.Equal(t, "done", task.Status)

	rec = env.do(http.MethodPut, item, env.adminToken, map[string]any{"title": "Reopened", "status": "blocked"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "blocked", decode[models.Task](t, rec).Status)

	rec = env.do(http.MethodPut, item+"/status", env.adminToken, map[string]any{"status": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivityUpdateKeepsDate(t *testing.T) {
	env := newTestEnv(t)
	_, prospect := env.createPipeline("ada@example.com")
	when := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := env.do(http.MethodPost, "/activity", env.adminToken, map[string]any{
		"prospect_id":   prospect.ID,
		"activity_type": "call",
		"activity_date": when,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	activity := decode[models.Activity](t, rec)
	assert.True(t, when.Equal(activity.ActivityDate))
	item := fmt.Sprintf("/activity/%d", activity.ID)

	rec = env.do(http.MethodPut, item, env.adminToken, map[string]any{"activity_type": "meeting", "notes": "moved online"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	activity = decode[models.Activity](t, rec)
	assert.Equal(t, "meeting", activity.ActivityType)
	assert.Equal(t, "moved online", activity.Notes)
	assert.True(t, when.Equal(activity.ActivityDate), "got %s", activity.ActivityDate)

	later := when.Add(48 * time.Hour)
	rec = env.do(http.MethodPut, item, env.adminToken, map[string]any{"activity_type": "meeting", "activity_date": later})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, later.Equal(decode[models.Activity](t, rec).ActivityDate))

	rec = env.do(http.MethodPost, "/activity", env.adminToken, map[string]any{
		"prospect_id":   prospect.ID,
		"activity_type": "note",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, decode[models.Activity](t, rec).ActivityDate.IsZero())
}

func TestAdminOnlyPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(http.MethodGet, "/createroles/permissions", env.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ids := make(map[string]int64)
	for _, p := range decode[[]models.Permission](t, rec) {
		ids[p.Name] = p.ID
	}

	for _, perm := range []string{models.PermInvitationsManage, models.PermRolesManage} {
		rec = env.do(http.MethodPost, "/createroles", env.adminToken, map[string]any{
			"name":           "Manager",
			"permission_ids": []int64{ids[models.PermClientsWrite], ids[perm]},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, perm)
	}
	exists, err := env.store.RoleExists(ctx, "Manager")
	require.NoError(t, err)
	assert.False(t, exists)

	// A role that already carries the grants, e.g. from an older database.
	role, err := env.store.CreateRole(ctx, models.Role{Name: "Manager"},
		[]int64{ids[models.PermInvitationsManage], ids[models.PermRolesManage]})
	require.NoError(t, err)
	require.NoError(t, env.policy.AddRole(role))
	manager, err := env.store.CreateUser(ctx, models.User{
		Email:      "manager@example.com",
		Role:       "Manager",
		BusinessID: env.admin.BusinessID,
		Status:     models.StatusActive,
	})
	require.NoError(t, err)
	token := env.token(manager)

	rec = env.do(http.MethodPost, "/create-user-invitation", token, map[string]any{
		"email": "boss@example.com",
		"role":  models.AdminRole,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err = env.store.FindByEmail(ctx, "boss@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec = env.do(http.MethodPost, "/createroles", token, map[string]any{
		"name":           "Escalated",
		"permission_ids": []int64{ids[models.PermClientsWrite]},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/createroles", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

var codePattern = regexp.MustCompile(`code is (\d{6})`)

func TestRegistrationFlow(t *testing.T) {
	env := newTestEnv(t)
	const email = "founder@example.com"

	rec := env.do(http.MethodPost, "/auth/initiate-registration", "", map[string]any{"email": env.admin.Email})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/auth/initiate-registration", "", map[string]any{"email": email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var code string
	require.Eventually(t, func() bool {
		msgs := env.mailer.to(email)
		if len(msgs) == 0 {
			return false
		}
		m := codePattern.FindStringSubmatch(msgs[0].Body)
		if m == nil {
			return false
		}
		code = m[1]
		return true
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(http.MethodPost, "/auth/complete-registration", "", map[string]any{
		"email": email, "code": "000000", "password": "long-enough", "name": "Founder",
	})
	if code != "000000" {
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec = env.do(http.MethodPost, "/auth/complete-registration", "", map[string]any{
		"email": email, "code": code, "password": "long-enough", "name": "Founder",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	login := decode[struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}](t, rec)
	assert.Equal(t, models.StatusPendingBusiness, login.User.Status)
	assert.Equal(t, models.AdminRole, login.User.Role)
	assert.Nil(t, login.User.BusinessID)

	rec = env.do(http.MethodPost, "/auth/registration-business", login.Token, map[string]any{"name": "Founder Co", "color1": "#000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registered := decode[struct {
		Token    string          `json:"token"`
		User     models.User     `json:"user"`
		Business models.Business `json:"business"`
	}](t, rec)
	assert.Equal(t, models.StatusActive, registered.User.Status)
	id, err := env.tokens.Validate(registered.Token)
	require.NoError(t, err)
	require.NotNil(t, id.BusinessID)
	assert.Equal(t, registered.Business.ID, *id.BusinessID)

	rec = env.do(http.MethodPost, "/auth/registration-business", registered.Token, map[string]any{"name": "Again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPut, "/auth/reset-password", registered.Token, map[string]any{
		"current_password": "wrong-password", "new_password": "brand-new-pass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodPut, "/auth/reset-password", registered.Token, map[string]any{
		"current_password": "long-enough", "new_password": "brand-new-pass",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": email, "password": "long-enough"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": email, "password": "brand-new-pass"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreflightAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/funnels", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	env.do(http.MethodGet, "/health", "", nil)
	rec = env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crm_http_requests_total")
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/user", env.memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "member@example.com", decode[models.User](t, rec).Email)

	rec = env.do(http.MethodPut, "/user", env.memberToken, map[string]any{"name": "Renamed", "email": "Renamed@Example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.User](t, rec)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "renamed@example.com", updated.Email)

	rec = env.do(http.MethodPut, "/user", env.memberToken, map[string]any{"email": env.admin.Email})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
