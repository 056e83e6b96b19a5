package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/events"
	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/middleware"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

const registrationCodeTTL = 15 * time.Minute

// AccountStore is the persistence behind registration and login.
type AccountStore interface {
	storage.UserStore
	storage.BusinessStore
	storage.RegistrationStore
}

// Publisher receives post-commit events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// AuthHandler owns registration, login and password endpoints.
type AuthHandler struct {
	store  AccountStore
	tokens *auth.TokenManager
	bus    Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(store AccountStore, tokens *auth.TokenManager, bus Publisher, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		store:  store,
		tokens: tokens,
		bus:    bus,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register attaches the auth routes. authenticate guards the routes that act
// on the calling user.
func (h *AuthHandler) Register(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/initiate-registration", h.handleInitiateRegistration)
		r.Post("/complete-registration", h.handleCompleteRegistration)
		r.Post("/login", h.handleLogin)
		r.With(authenticate).Post("/registration-business", h.handleRegisterBusiness)
		r.With(authenticate).Put("/reset-password", h.handleResetPassword)
	})
}

func (h *AuthHandler) handleInitiateRegistration(w http.ResponseWriter, r *http.Request) {
	var req dto.InitiateRegistrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if _, err := h.store.FindByEmail(r.Context(), email); err == nil {
		respond.Error(w, http.StatusConflict, "user already exists")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}

	code, err := auth.GenerateCode()
	if err != nil {
		writeStoreError(w, r, h.logger, err, "registration")
		return
	}
	reg := models.Registration{Email: email, Code: code, ExpiresAt: h.now().Add(registrationCodeTTL)}
	if err := h.store.SaveRegistration(r.Context(), reg); err != nil {
		writeStoreError(w, r, h.logger, err, "registration")
		return
	}
	h.bus.Publish(r.Context(), events.New(events.TopicRegistrationInitiated, events.RegistrationInitiated{
		Email:     reg.Email,
		Code:      reg.Code,
		ExpiresAt: reg.ExpiresAt,
	}))

	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "verification code sent"})
}

func (h *AuthHandler) handleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var req dto.CompleteRegistrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := validatePassword(req.Password); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		badRequest(w, "code is required")
		return
	}

	if err := h.store.ConsumeRegistration(r.Context(), email, strings.TrimSpace(req.Code), h.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			badRequest(w, "invalid or expired code")
			return
		}
		writeStoreError(w, r, h.logger, err, "registration")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	user, err := h.store.CreateUser(r.Context(), models.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         models.AdminRole,
		Status:       models.StatusPendingBusiness,
	})
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, user)
}

func (h *AuthHandler) handleRegisterBusiness(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())

	var req dto.RegisterBusinessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(w, "name is required")
		return
	}

	user, err := h.store.FindByID(r.Context(), id.UserID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	if user.BusinessID != nil {
		respond.Error(w, http.StatusConflict, "business already registered")
		return
	}

	business, user, err := h.store.CreateBusinessForUser(r.Context(), models.Business{
		Name:   strings.TrimSpace(req.Name),
		Color1: strings.TrimSpace(req.Color1),
		Color2: strings.TrimSpace(req.Color2),
		Color3: strings.TrimSpace(req.Color3),
	}, user.ID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "business")
		return
	}

	token, err := h.tokens.Generate(user)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respond.JSON(w, http.StatusCreated, dto.BusinessRegistrationResponse{Token: token, User: user, Business: business})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		badRequest(w, "email and password are required")
		return
	}
	user, err := h.store.FindByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respond.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	h.respondWithToken(w, r, http.StatusOK, user)
}

func (h *AuthHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())

	var req dto.ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.store.FindByID(r.Context(), id.UserID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		badRequest(w, "current password is incorrect")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	if err := h.store.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "password updated"})
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user models.User) {
	token, err := h.tokens.Generate(user)
	if err != nil {
		h.logger.Error("generate token", zap.String("request_id", middleware.RequestIDFrom(r.Context())), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respond.JSON(w, status, dto.LoginResponse{Token: token, User: user})
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", errors.New("email is invalid")
	}
	return strings.ToLower(trimmed), nil
}

func validatePassword(password string) error {
	if len(strings.TrimSpace(password)) < 8 || !utf8.ValidString(password) {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
