package routes

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"merchantbridge/internal/auth"
)

// AuthRoutes drives authentication from the dashboard: triggering the
// client-credentials grant, running the user-code flow and reporting token
// state.
type AuthRoutes struct {
	manager *auth.Manager
	log     *slog.Logger

	mu          sync.Mutex
	flowRunning bool
}

// NewAuthRoutes constructs auth routes.
func NewAuthRoutes(manager *auth.Manager, log *slog.Logger) *AuthRoutes {
	if log == nil {
		log = slog.Default()
	}
	return &AuthRoutes{manager: manager, log: log}
}

// RegisterRoutes registers authentication endpoints.
func (r *AuthRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/auth/token", r.tokenState)
	s.POST("/auth/authenticate", r.authenticate)
	s.POST("/auth/user-code", r.generateUserCode)
	s.GET("/auth/user-code", r.userCodeState)
	s.GET("/auth/user-code/status", r.userCodeStatus)
}

type tokenStateView struct {
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
	TokenType     string    `json:"tokenType,omitempty"`
	HasRefresh    bool      `json:"hasRefresh"`
}

func (r *AuthRoutes) tokenState(c echo.Context) error {
	ctx := c.Request().Context()
	rec := r.manager.Token(ctx)
	view := tokenStateView{
		Authenticated: rec.Present() && !r.manager.Expired(rec, time.Now()),
		HasRefresh:    rec.RefreshToken != "",
	}
	if rec.Present() {
		view.ExpiresAt = time.UnixMilli(rec.ExpiresAt)
		view.TokenType = rec.TokenType
	}
	return c.JSON(http.StatusOK, view)
}

// authenticate triggers a client-credentials grant immediately.
func (r *AuthRoutes) authenticate(c echo.Context) error {
	rec, err := r.manager.AuthenticateClientCredentials(c.Request().Context())
	if err != nil {
		r.log.ErrorContext(c.Request().Context(), "client credentials grant failed", "error", err)
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tokenStateView{
		Authenticated: true,
		ExpiresAt:     time.UnixMilli(rec.ExpiresAt),
		TokenType:     rec.TokenType,
		HasRefresh:    rec.RefreshToken != "",
	})
}

type userCodeView struct {
	UserCode                string    `json:"userCode"`
	VerificationURL         string    `json:"verificationUrl"`
	VerificationURLComplete string    `json:"verificationUrlComplete"`
	ExpiresAt               time.Time `json:"expiresAt"`
}

// generateUserCode starts a user-code session and drives it to completion in
// the background: once the user authorizes in the merchant portal, the code is
// exchanged automatically.
func (r *AuthRoutes) generateUserCode(c echo.Context) error {
	session, err := r.manager.RequestUserCode(c.Request().Context())
	if err != nil {
		r.log.ErrorContext(c.Request().Context(), "user code request failed", "error", err)
		return writeError(c, err)
	}

	r.startFlow()

	return c.JSON(http.StatusOK, userCodeView{
		UserCode:                session.UserCode,
		VerificationURL:         session.VerificationURL,
		VerificationURLComplete: session.VerificationURLComplete,
		ExpiresAt:               session.Deadline(),
	})
}

func (r *AuthRoutes) startFlow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flowRunning {
		return
	}
	r.flowRunning = true

	go func() {
		defer func() {
			r.mu.Lock()
			r.flowRunning = false
			r.mu.Unlock()
		}()
		if err := r.manager.RunDeviceFlow(context.Background()); err != nil {
			r.log.Warn("user code flow ended without a token", "error", err)
		}
	}()
}

func (r *AuthRoutes) userCodeState(c echo.Context) error {
	session, ok := r.manager.ActiveSession(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusNotFound, errBody("no active user code"))
	}
	return c.JSON(http.StatusOK, userCodeView{
		UserCode:                session.UserCode,
		VerificationURL:         session.VerificationURL,
		VerificationURLComplete: session.VerificationURLComplete,
		ExpiresAt:               session.Deadline(),
	})
}

func (r *AuthRoutes) userCodeStatus(c echo.Context) error {
	status, err := r.manager.CheckUserCode(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}
