// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/auth/mocks"
	"github.com/vidloom/accounts/internal/logging"
	"github.com/vidloom/accounts/pkg/errutil"
)

var errStoreDown = errors.New("connection refused")

type mockSet struct {
	users    *mocks.MockUserRepository
	hasher   *mocks.MockPasswordHasher
	tokens   *mocks.MockTokenIssuer
	notifier *mocks.MockNotifier
}

func newMockService(t *testing.T, opts ...auth.ServiceOption) (*auth.Service, mockSet) {
	t.Helper()
	m := mockSet{
		users:    mocks.NewMockUserRepository(t),
		hasher:   mocks.NewMockPasswordHasher(t),
		tokens:   mocks.NewMockTokenIssuer(t),
		notifier: mocks.NewMockNotifier(t),
	}
	svc, err := auth.NewService(m.users, m.hasher, m.tokens, m.notifier, opts...)
	require.NoError(t, err)
	return svc, m
}

func verifiedUser() *auth.User {
	now := time.Now()
	return &auth.User{
		ID:            ulid.Make(),
		Name:          "Ann",
		Email:         "ann@example.com",
		PasswordHash:  "$argon2id$stored",
		EmailVerified: true,
		Plan:          auth.PlanFree,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestService_StoreFailuresAreInternal(t *testing.T) {
	ctx := context.Background()

	t.Run("register lookup", func(t *testing.T) {
		svc, m := newMockService(t)
		m.users.On("GetByEmail", ctx, "ann@example.com").Return(nil, errStoreDown)

		_, err := svc.Register(ctx, "Ann", "ann@example.com", "Passw0rd")
		errutil.AssertErrorCode(t, err, auth.CodeInternal)
		errutil.AssertErrorContext(t, err, "operation", "register")
		assert.ErrorIs(t, err, errStoreDown)
		assert.False(t, auth.IsOperational(err))
	})

	t.Run("login lookup", func(t *testing.T) {
		svc, m := newMockService(t)
		m.users.On("GetByEmail", ctx, "ann@example.com").Return(nil, errStoreDown)

		_, err := svc.Login(ctx, "ann@example.com", "Passw0rd")
		errutil.AssertErrorCode(t, err, auth.CodeInternal)
	})

	t.Run("forgot password lookup", func(t *testing.T) {
		svc, m := newMockService(t)
		m.users.On("GetByEmail", ctx, "ann@example.com").Return(nil, errStoreDown)

		err := svc.ForgotPassword(ctx, "ann@example.com")
		errutil.AssertErrorCode(t, err, auth.CodeInternal)
	})

	t.Run("profile update save", func(t *testing.T) {
		svc, m := newMockService(t)
		user := verifiedUser()
		m.users.On("GetByID", ctx, user.ID).Return(user, nil)
		m.users.On("Update", ctx, mock.Anything).Return(errStoreDown)

		_, err := svc.UpdateProfile(ctx, user.ID, "Annie")
		errutil.AssertErrorCode(t, err, auth.CodeInternal)
		errutil.AssertErrorContext(t, err, "step", "update user")
	})

	t.Run("signing failure on login", func(t *testing.T) {
		svc, m := newMockService(t)
		user := verifiedUser()
		m.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
		m.hasher.On("Verify", "Passw0rd", user.PasswordHash).Return(true, nil)
		m.hasher.On("NeedsUpgrade", user.PasswordHash).Return(false)
		m.users.On("Update", ctx, mock.Anything).Return(nil)
		m.tokens.On("IssuePair", user.Identity()).Return(auth.TokenPair{}, errors.New("sign failed"))

		_, err := svc.Login(ctx, user.Email, "Passw0rd")
		errutil.AssertErrorCode(t, err, auth.CodeInternal)
	})
}

func TestService_LoginRunsHasherForUnknownEmail(t *testing.T) {
	ctx := context.Background()
	svc, m := newMockService(t)

	m.users.On("GetByEmail", ctx, "nobody@example.com").Return(nil, auth.ErrNotFound)
	m.hasher.On("Verify", "Passw0rd", mock.MatchedBy(func(hash string) bool {
		return strings.HasPrefix(hash, "$argon2id$")
	})).Return(false, nil).Once()

	_, err := svc.Login(ctx, "nobody@example.com", "Passw0rd")
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
}

func TestService_LoginUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	svc, m := newMockService(t)
	user := verifiedUser()
	user.PasswordHash = "$2a$10$legacy"

	m.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
	m.hasher.On("Verify", "Passw0rd", "$2a$10$legacy").Return(true, nil)
	m.hasher.On("NeedsUpgrade", "$2a$10$legacy").Return(true)
	m.hasher.On("Hash", "Passw0rd").Return("$argon2id$upgraded", nil)
	m.users.On("Update", ctx, mock.MatchedBy(func(u *auth.User) bool {
		return u.PasswordHash == "$argon2id$upgraded" && u.LastLoginAt != nil
	})).Return(nil)
	m.tokens.On("IssuePair", mock.Anything).Return(auth.TokenPair{AccessToken: "a", RefreshToken: "r"}, nil)

	session, err := svc.Login(ctx, user.Email, "Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, "a", session.Tokens.AccessToken)
}

func TestService_RefreshTokenRejectsBadToken(t *testing.T) {
	ctx := context.Background()
	svc, m := newMockService(t)

	verifyErr := errors.New("token is expired")
	m.tokens.On("VerifyRefresh", "stale").Return(auth.Identity{}, verifyErr)

	_, err := svc.RefreshToken(ctx, "stale")
	errutil.AssertErrorCode(t, err, auth.CodeInvalidToken)
	assert.NotErrorIs(t, err, verifyErr, "signing details must not leak")
}

func TestService_LogsBestEffortFailures(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	t.Run("login record failure is logged but login succeeds", func(t *testing.T) {
		buf.Reset()
		svc, m := newMockService(t, auth.WithLogger(logger))
		user := verifiedUser()

		m.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
		m.hasher.On("Verify", "Passw0rd", user.PasswordHash).Return(true, nil)
		m.hasher.On("NeedsUpgrade", user.PasswordHash).Return(false)
		m.users.On("Update", ctx, mock.Anything).Return(errStoreDown)
		m.tokens.On("IssuePair", user.Identity()).Return(auth.TokenPair{AccessToken: "a", RefreshToken: "r"}, nil)

		_, err := svc.Login(ctx, user.Email, "Passw0rd")
		require.NoError(t, err)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
		assert.Equal(t, "ERROR", entry["level"])
		assert.Equal(t, "failed to record login", entry["msg"])
		assert.Contains(t, entry["error"], "connection refused")
	})

	t.Run("code dispatch failure is logged with the cause", func(t *testing.T) {
		buf.Reset()
		svc, m := newMockService(t, auth.WithLogger(logger))
		user := verifiedUser()
		user.EmailVerified = false

		m.users.On("GetByID", ctx, user.ID).Return(user, nil)
		m.users.On("Update", ctx, mock.Anything).Return(nil)
		m.notifier.On("Send", ctx, mock.MatchedBy(func(msg auth.Message) bool {
			return msg.Kind == auth.MessageVerificationCode && len(msg.Code) == 6
		})).Return(errors.New("smtp: 421 service not available"))

		err := svc.ResendVerification(ctx, user.ID)
		errutil.AssertErrorCode(t, err, auth.CodeNotificationFailed)
		assert.NotContains(t, err.Error(), "421")
		assert.Contains(t, buf.String(), "notification delivery failed")
		assert.Contains(t, buf.String(), "421 service not available")
	})

	t.Run("courtesy email failure is a warning", func(t *testing.T) {
		buf.Reset()
		svc, m := newMockService(t, auth.WithLogger(logger))
		user := verifiedUser()

		m.users.On("GetByID", ctx, user.ID).Return(user, nil)
		m.hasher.On("Verify", "Passw0rd", user.PasswordHash).Return(true, nil)
		m.users.On("Delete", ctx, user.ID).Return(nil)
		m.notifier.On("Send", ctx, mock.Anything).Return(errors.New("mailbox full"))

		require.NoError(t, svc.DeleteAccount(ctx, user.ID, "Passw0rd"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, string(auth.MessageAccountDeleted), entry["kind"])
	})
}

func TestService_ErrorLogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("accountd", "test", "json", "info", &buf)
	ctx := logging.WithRequestID(context.Background(), "req-5c1e")

	t.Run("code dispatch failure", func(t *testing.T) {
		buf.Reset()
		svc, m := newMockService(t, auth.WithLogger(logger))
		user := verifiedUser()
		user.EmailVerified = false

		m.users.On("GetByID", ctx, user.ID).Return(user, nil)
		m.users.On("Update", ctx, mock.Anything).Return(nil)
		m.notifier.On("Send", ctx, mock.Anything).Return(errors.New("delivery failed"))

		err := svc.ResendVerification(ctx, user.ID)
		errutil.AssertErrorCode(t, err, auth.CodeNotificationFailed)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
		assert.Equal(t, "notification delivery failed", entry["msg"])
		assert.Equal(t, "req-5c1e", entry["request_id"])
	})

	t.Run("failed login stamp", func(t *testing.T) {
		buf.Reset()
		svc, m := newMockService(t, auth.WithLogger(logger))
		user := verifiedUser()

		m.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
		m.hasher.On("Verify", "Passw0rd", user.PasswordHash).Return(true, nil)
		m.hasher.On("NeedsUpgrade", user.PasswordHash).Return(false)
		m.users.On("Update", ctx, mock.Anything).Return(errStoreDown)
		m.tokens.On("IssuePair", user.Identity()).Return(auth.TokenPair{AccessToken: "a", RefreshToken: "r"}, nil)

		_, err := svc.Login(ctx, user.Email, "Passw0rd")
		require.NoError(t, err)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
		assert.Equal(t, "failed to record login", entry["msg"])
		assert.Equal(t, "req-5c1e", entry["request_id"])
	})
}

func TestService_RegisterLosingCreateRace(t *testing.T) {
	ctx := context.Background()

	t.Run("unverified winner is overwritten", func(t *testing.T) {
		svc, m := newMockService(t)
		winner := verifiedUser()
		winner.EmailVerified = false
		winner.Name = "First Ann"

		m.users.On("GetByEmail", ctx, "ann@example.com").Return(nil, auth.ErrNotFound).Once()
		m.hasher.On("Hash", "Passw0rd").Return("$argon2id$new", nil)
		m.users.On("Create", ctx, mock.Anything).Return(auth.ErrEmailTaken)
		m.users.On("GetByEmail", ctx, "ann@example.com").Return(winner, nil).Once()
		m.users.On("Update", ctx, mock.MatchedBy(func(u *auth.User) bool {
			return u.ID == winner.ID && u.Name == "Second Ann" && u.Verification != nil &&
				u.CreatedAt.Equal(winner.CreatedAt)
		})).Return(nil)
		m.notifier.On("Send", ctx, mock.Anything).Return(nil)

		id, err := svc.Register(ctx, "Second Ann", "ann@example.com", "Passw0rd")
		require.NoError(t, err)
		assert.Equal(t, winner.ID, id)
	})

	t.Run("verified winner is a conflict", func(t *testing.T) {
		svc, m := newMockService(t)
		winner := verifiedUser()

		m.users.On("GetByEmail", ctx, "ann@example.com").Return(nil, auth.ErrNotFound).Once()
		m.hasher.On("Hash", "Passw0rd").Return("$argon2id$new", nil)
		m.users.On("Create", ctx, mock.Anything).Return(auth.ErrEmailTaken)
		m.users.On("GetByEmail", ctx, "ann@example.com").Return(winner, nil).Once()

		_, err := svc.Register(ctx, "Ann", "ann@example.com", "Passw0rd")
		errutil.AssertErrorCode(t, err, auth.CodeEmailTaken)
	})
}
