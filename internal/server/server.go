package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/authz"
	"github.com/hongminglow/pipeline-crm/internal/campaign"
	"github.com/hongminglow/pipeline-crm/internal/config"
	"github.com/hongminglow/pipeline-crm/internal/events"
	"github.com/hongminglow/pipeline-crm/internal/http/handlers"
	"github.com/hongminglow/pipeline-crm/internal/mail"
	"github.com/hongminglow/pipeline-crm/internal/metrics"
	"github.com/hongminglow/pipeline-crm/internal/middleware"
	"github.com/hongminglow/pipeline-crm/internal/pipeline"
	"github.com/hongminglow/pipeline-crm/internal/realtime"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// Deps are the long-lived components shared by every handler. They are
// built once in main and closed there.
type Deps struct {
	Config   config.Config
	Store    storage.Store
	Tokens   *auth.TokenManager
	Enforcer *authz.Enforcer
	Bus      *events.Bus
	Hub      *realtime.Hub
	Mailer   mail.Mailer
	Logger   *zap.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              deps.Config.HTTPAddress(),
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return &Server{inner: httpServer}
}

// NewRouter builds the full HTTP surface.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Store

	authenticate := middleware.Authenticate(deps.Tokens)
	guard := handlers.Guard(func(permission string) func(http.Handler) http.Handler {
		return middleware.RequirePermission(deps.Enforcer, permission, logger)
	})
	limiter := middleware.NewRateLimiter(deps.Config.AuthRatePerMinute, deps.Config.AuthRateBurst, deps.Config.TrustedProxies)

	service := pipeline.NewService(store, deps.Bus)
	dispatcher := campaign.NewDispatcher(store, deps.Mailer, deps.Config.EmailConcurrency, logger)

	r := chi.NewRouter()
	r.Use(middleware.CORS(deps.Config.CORSOrigins))
	r.Use(middleware.Metrics)

	handlers.NewHealthHandler(time.Now()).Register(r)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		handlers.NewAuthHandler(store, deps.Tokens, deps.Bus, logger).Register(r, authenticate)
	})

	if deps.Hub != nil {
		handlers.NewRealtimeHandler(deps.Hub, deps.Tokens).Register(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		handlers.NewUserHandler(store, deps.Bus, logger).Register(r, guard)
		handlers.NewRoleHandler(store, deps.Enforcer, logger).Register(r, guard)
		handlers.NewClientHandler(store, logger).Register(r, guard)
		handlers.NewFunnelHandler(service, store, logger).Register(r, guard)
		handlers.NewProspectHandler(service, store, logger).Register(r, guard)
		handlers.NewActivityHandler(store, logger).Register(r, guard)
		handlers.NewTaskHandler(store, logger).Register(r, guard)
		handlers.NewTemplateHandler(store, logger).Register(r, guard)
		handlers.NewEmailHandler(dispatcher, store, logger).Register(r, guard)
	})

	return middleware.Logging(logger, r)
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
