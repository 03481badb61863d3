// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/auth/authtest"
	"github.com/vidloom/accounts/internal/auth/memory"
	"github.com/vidloom/accounts/internal/httpapi"
	"github.com/vidloom/accounts/internal/logging"
	"github.com/vidloom/accounts/internal/observability"
	"github.com/vidloom/accounts/internal/token"
)

const (
	annEmail    = "ann@example.com"
	annPassword = "Passw0rd"
)

type apiHarness struct {
	api      *httpapi.Server
	svc      *auth.Service
	swap     httpapi.Accounts
	notifier *authtest.RecordingNotifier
	clock    *authtest.Clock
	metrics  *observability.Metrics
	logs     *bytes.Buffer
}

type harnessOption func(*apiHarness, *[]httpapi.Option)

func newAPIHarness(t *testing.T, opts ...harnessOption) *apiHarness {
	t.Helper()

	h := &apiHarness{
		notifier: authtest.NewRecordingNotifier(),
		clock:    authtest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		logs:     &bytes.Buffer{},
	}

	tokens, err := token.NewService(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "vidloom",
		Audience:      "vidloom-app",
	}, token.WithClock(h.clock.Now))
	require.NoError(t, err)

	svc, err := auth.NewService(memory.NewUserRepository(), authtest.FastHasher(), tokens, h.notifier,
		auth.WithCodeGenerator(&authtest.SequentialCodes{}),
		auth.WithClock(h.clock.Now),
		auth.WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)
	h.svc = svc

	apiOpts := []httpapi.Option{
		httpapi.WithLogger(logging.Setup("accountd", "test", "json", "debug", h.logs)),
		httpapi.WithMetrics(h.metrics),
	}
	for _, opt := range opts {
		opt(h, &apiOpts)
	}

	var accounts httpapi.Accounts = svc
	if h.swap != nil {
		accounts = h.swap
	}
	api, err := httpapi.New(httpapi.Config{}, accounts, tokens, apiOpts...)
	require.NoError(t, err)
	h.api = api
	return h
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

type session struct {
	User         auth.Profile `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, bearer string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// signUp registers and verifies Ann through the API and returns her session.
func (h *apiHarness) signUp(t *testing.T) session {
	t.Helper()
	rec, env := h.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Ann", "email": annEmail, "password": annPassword,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	tempID := decodeData[map[string]string](t, env)["tempUserId"]

	msg, ok := h.notifier.Last(auth.MessageVerificationCode, annEmail)
	require.True(t, ok)

	rec, env = h.do(t, http.MethodPost, "/api/auth/verify-email", map[string]string{
		"userId": tempID, "code": msg.Code,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	return decodeData[session](t, env)
}

func TestAPI_AccountLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	s := h.signUp(t)
	assert.Equal(t, annEmail, s.User.Email)
	assert.True(t, s.User.IsEmailVerified)
	require.NotEmpty(t, s.AccessToken)

	rec, env := h.do(t, http.MethodGet, "/api/auth/me", nil, s.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, annEmail, decodeData[map[string]auth.Profile](t, env)["user"].Email)

	rec, env = h.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ANN@example.com", "password": annPassword,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeData[session](t, env)

	rec, env = h.do(t, http.MethodPost, "/api/auth/refresh-token", map[string]string{
		"refreshToken": login.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeData[auth.TokenPair](t, env).AccessToken)

	rec, env = h.do(t, http.MethodPut, "/api/users/profile", map[string]string{"name": "Annie"}, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Annie", decodeData[map[string]auth.Profile](t, env)["user"].Name)

	rec, _ = h.do(t, http.MethodPut, "/api/users/change-password", map[string]string{
		"currentPassword": annPassword, "newPassword": "N3wPassword",
	}, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/auth/logout", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, "/api/users/account", map[string]string{"password": "N3wPassword"}, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": annEmail, "password": "N3wPassword",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.CodeInvalidCredentials, env.Code)
	assert.False(t, env.Success)
}

func TestAPI_PasswordResetFlow(t *testing.T) {
	h := newAPIHarness(t)
	h.signUp(t)

	rec, env := h.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": annEmail}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	known := env.Message

	rec, env = h.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nobody@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, known, env.Message, "unknown emails get the same answer")

	msg, ok := h.notifier.Last(auth.MessagePasswordResetCode, annEmail)
	require.True(t, ok)

	rec, _ = h.do(t, http.MethodPost, "/api/auth/verify-reset-code", map[string]string{
		"email": annEmail, "code": msg.Code,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"email": annEmail, "code": msg.Code, "newPassword": "Res3tPassword",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeData[session](t, env).AccessToken)

	rec, env = h.do(t, http.MethodPost, "/api/auth/verify-reset-code", map[string]string{
		"email": annEmail, "code": msg.Code,
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "codes are single use")
	assert.Equal(t, auth.CodeInvalidResetCode, env.Code)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	h := newAPIHarness(t)
	s := h.signUp(t)

	t.Run("conflict on verified email", func(t *testing.T) {
		rec, env := h.do(t, http.MethodPost, "/api/auth/register", map[string]string{
			"name": "Ann", "email": annEmail, "password": annPassword,
		}, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, auth.CodeEmailTaken, env.Code)
	})

	t.Run("already verified is a bad request", func(t *testing.T) {
		rec, env := h.do(t, http.MethodPost, "/api/auth/resend-verification", map[string]string{
			"userId": s.User.ID,
		}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, auth.CodeAlreadyVerified, env.Code)
	})

	t.Run("unknown user is not found", func(t *testing.T) {
		rec, env := h.do(t, http.MethodPost, "/api/auth/resend-verification", map[string]string{
			"userId": "01J0000000000000000000000A",
		}, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, auth.CodeUserNotFound, env.Code)
	})

	t.Run("wrong current password", func(t *testing.T) {
		rec, env := h.do(t, http.MethodPut, "/api/users/change-password", map[string]string{
			"currentPassword": "wrong-password", "newPassword": "N3wPassword",
		}, s.AccessToken)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, auth.CodeIncorrectPassword, env.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec, env := h.do(t, http.MethodGet, "/api/nope", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, httpapi.CodeRouteNotFound, env.Code)
	})
}

func TestAPI_RequestValidation(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name    string
		path    string
		body    any
		message string
	}{
		{"missing email", "/api/auth/register", map[string]string{"name": "Ann", "password": annPassword}, "email is required"},
		{"bad email", "/api/auth/login", map[string]string{"email": "ann", "password": "x"}, "email must be a valid email address"},
		{"short password", "/api/auth/register", map[string]string{"name": "Ann", "email": annEmail, "password": "short"}, "password must be at least 8 characters"},
		{"short code", "/api/auth/verify-reset-code", map[string]string{"email": annEmail, "code": "123"}, "code must be exactly 6 characters"},
		{"non-numeric code", "/api/auth/verify-reset-code", map[string]string{"email": annEmail, "code": "12345a"}, "code must contain only digits"},
		{"bad user id", "/api/auth/verify-email", map[string]string{"userId": "nope", "code": "123456"}, "userId is not a valid user id"},
		{"malformed json", "/api/auth/login", "{", "request body must be valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := h.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, auth.CodeValidationFailed, env.Code)
			assert.Equal(t, tt.message, env.Message)
		})
	}

	assert.Empty(t, h.notifier.Messages(), "invalid requests never reach the service")
}

func TestAPI_BearerAuthentication(t *testing.T) {
	h := newAPIHarness(t)
	s := h.signUp(t)

	t.Run("missing", func(t *testing.T) {
		rec, env := h.do(t, http.MethodGet, "/api/users/profile", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, httpapi.CodeMissingToken, env.Code)
	})

	t.Run("garbage", func(t *testing.T) {
		rec, env := h.do(t, http.MethodGet, "/api/users/profile", nil, "not-a-jwt")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, auth.CodeTokenInvalid, env.Code)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		rec, env := h.do(t, http.MethodGet, "/api/users/profile", nil, s.RefreshToken)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, auth.CodeTokenInvalid, env.Code)
	})

	t.Run("expired", func(t *testing.T) {
		h.clock.Advance(8 * 24 * time.Hour)
		rec, env := h.do(t, http.MethodGet, "/api/users/profile", nil, s.AccessToken)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, auth.CodeTokenExpired, env.Code)
	})
}

func TestAPI_Health(t *testing.T) {
	h := newAPIHarness(t)
	rec, env := h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := httpapi.New(httpapi.Config{}, nil, nil)
	require.Error(t, err)
}

func TestServer_StartStop(t *testing.T) {
	h := newAPIHarness(t)
	tokens, err := token.NewService(token.Config{AccessSecret: "a", RefreshSecret: "b", Issuer: "i", Audience: "a"})
	require.NoError(t, err)
	api, err := httpapi.New(httpapi.Config{Addr: "127.0.0.1:0"}, h.svc, tokens,
		httpapi.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	errCh, err := api.Start()
	require.NoError(t, err)
	require.NotEmpty(t, api.Addr())

	_, err = api.Start()
	require.Error(t, err, "second start must fail")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + api.Addr() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, api.Stop(ctx))
	require.NoError(t, api.Stop(ctx), "stop is idempotent")

	_, open := <-errCh
	assert.False(t, open)
}
