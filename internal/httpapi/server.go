// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package httpapi exposes the account operations over REST.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/observability"
	"github.com/vidloom/accounts/internal/ratelimit"
)

// Accounts is the account service the API drives. *auth.Service satisfies it.
type Accounts interface {
	Register(ctx context.Context, name, email, password string) (ulid.ULID, error)
	VerifyEmail(ctx context.Context, id ulid.ULID, code string) (*auth.Session, error)
	ResendVerification(ctx context.Context, id ulid.ULID) error
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	ForgotPassword(ctx context.Context, email string) error
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) (*auth.Session, error)
	GetProfile(ctx context.Context, id ulid.ULID) (auth.Profile, error)
	UpdateProfile(ctx context.Context, id ulid.ULID, name string) (auth.Profile, error)
	ChangePassword(ctx context.Context, id ulid.ULID, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, id ulid.ULID, password string) error
}

// Config configures the API listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// TrustedProxies lists proxies whose X-Forwarded-For is honoured when
	// resolving the client IP. Empty trusts none.
	TrustedProxies []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records request metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter limits the unauthenticated auth endpoints per client.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// Server is the REST API.
type Server struct {
	cfg      Config
	accounts Accounts
	tokens   AccessVerifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	limiter  *ratelimit.Limiter
	router   *gin.Engine

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
}

// New builds the router.
func New(cfg Config, accounts Accounts, tokens AccessVerifier, opts ...Option) (*Server, error) {
	if accounts == nil || tokens == nil {
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").Errorf("accounts and token verifier are required")
	}
	s := &Server{
		cfg:      cfg,
		accounts: accounts,
		tokens:   tokens,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	registerJSONNames()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").With("trusted_proxies", cfg.TrustedProxies).Wrap(err)
	}
	// recovery stays innermost: requestLogger and instrument record after c.Next().
	r.Use(requestID(), requestLogger(s.logger), instrument(s.metrics), recovery(s.logger))
	r.NoRoute(func(c *gin.Context) {
		abort(c, http.StatusNotFound, CodeRouteNotFound, "route not found")
	})
	s.router = r
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		respond(c, "ok", nil)
	})

	limited := limit(s.limiter, s.metrics)
	authed := bearer(s.tokens)

	a := s.router.Group("/api/auth")
	a.POST("/register", limited, s.register)
	a.POST("/verify-email", limited, s.verifyEmail)
	a.POST("/resend-verification", limited, s.resendVerification)
	a.POST("/login", limited, s.login)
	a.POST("/refresh-token", limited, s.refreshToken)
	a.POST("/forgot-password", limited, s.forgotPassword)
	a.POST("/verify-reset-code", limited, s.verifyResetCode)
	a.POST("/reset-password", limited, s.resetPassword)
	a.POST("/logout", authed, s.logout)
	a.GET("/me", authed, s.getProfile)

	u := s.router.Group("/api/users", authed)
	u.GET("/profile", s.getProfile)
	u.PUT("/profile", s.updateProfile)
	u.PUT("/change-password", s.changePassword)
	u.DELETE("/account", s.deleteAccount)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// The returned channel receives a serve error, if any, and is closed when
// the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("HTTPAPI_LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_api_server").Wrap(err)
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
