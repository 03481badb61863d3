// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/logging"
	"github.com/vidloom/accounts/internal/observability"
	"github.com/vidloom/accounts/internal/ratelimit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const identityKey = "identity"

// requestID propagates the caller's request id, or assigns a new one, and
// stores it in the request context for logging.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", routeOf(c)),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.String("client_ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// recovery turns a panic into the generic internal-error envelope.
func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic while handling request",
			"route", routeOf(c),
			"panic", recovered)
		abort(c, http.StatusInternalServerError, CodeInternal, genericInternalMessage)
	})
}

// instrument records request counts and latency. A nil m disables it.
func instrument(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := routeOf(c)
		m.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// limit applies the per-client bucket of the matched route. A nil limiter
// allows everything.
func limit(limiter *ratelimit.Limiter, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		route := routeOf(c)
		d := limiter.Allow(c.Request.Context(), route+":"+c.ClientIP())
		if d.Allowed {
			c.Next()
			return
		}
		if m != nil {
			m.RateLimited.WithLabelValues(route).Inc()
		}
		c.Header("Retry-After", d.RetryAfterSeconds())
		abort(c, http.StatusTooManyRequests, CodeRateLimited, "too many requests, please slow down")
	}
}

// AccessVerifier validates access tokens.
type AccessVerifier interface {
	VerifyAccess(token string) (auth.Identity, error)
}

// bearer authenticates the request from its Authorization header. Expired
// tokens are reported separately so clients know to refresh.
func bearer(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, found := strings.Cut(c.GetHeader("Authorization"), " ")
		token = strings.TrimSpace(token)
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abort(c, http.StatusUnauthorized, CodeMissingToken, "authentication required")
			return
		}

		identity, err := verifier.VerifyAccess(token)
		if err != nil {
			if auth.ErrorCode(err) == auth.CodeTokenExpired {
				abort(c, http.StatusUnauthorized, auth.CodeTokenExpired, "access token expired")
				return
			}
			abort(c, http.StatusUnauthorized, auth.CodeTokenInvalid, "invalid access token")
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// callerID returns the authenticated user id set by bearer.
func callerID(c *gin.Context) ulid.ULID {
	identity, _ := c.MustGet(identityKey).(auth.Identity)
	return identity.UserID
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
