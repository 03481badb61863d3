// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/auth/authtest"
	"github.com/vidloom/accounts/internal/token"
	"github.com/vidloom/accounts/pkg/errutil"
)

func testConfig() token.Config {
	return token.Config{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		Issuer:        "vidloom-accounts",
		Audience:      "vidloom-app",
	}
}

func testIdentity() auth.Identity {
	return auth.Identity{
		UserID:  ulid.Make(),
		Email:   "ann@example.com",
		Plan:    auth.PlanPro,
		IsAdmin: true,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*token.Config)
		msg    string
	}{
		{"missing access secret", func(c *token.Config) { c.AccessSecret = "" }, "secrets are required"},
		{"missing refresh secret", func(c *token.Config) { c.RefreshSecret = "" }, "secrets are required"},
		{"identical secrets", func(c *token.Config) { c.RefreshSecret = c.AccessSecret }, "must differ"},
		{"missing audience", func(c *token.Config) { c.Audience = "" }, "issuer and audience"},
		{"negative ttl", func(c *token.Config) { c.AccessTTL = -time.Second }, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := token.NewService(cfg)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "TOKEN_INVALID_CONFIG")
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestService_RoundTrip(t *testing.T) {
	svc, err := token.NewService(testConfig())
	require.NoError(t, err)

	id := testIdentity()
	pair, err := svc.IssuePair(id)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	t.Run("access token carries identity", func(t *testing.T) {
		got, err := svc.VerifyAccess(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("refresh token carries identity", func(t *testing.T) {
		got, err := svc.VerifyRefresh(pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("tokens are not interchangeable", func(t *testing.T) {
		_, err := svc.VerifyRefresh(pair.AccessToken)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)

		_, err = svc.VerifyAccess(pair.RefreshToken)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("payload uses expected claim names", func(t *testing.T) {
		claims := jwt.MapClaims{}
		_, _, err := jwt.NewParser().ParseUnverified(pair.AccessToken, claims)
		require.NoError(t, err)
		assert.Equal(t, id.UserID.String(), claims["sub"])
		assert.Equal(t, "ann@example.com", claims["email"])
		assert.Equal(t, "pro", claims["plan"])
		assert.Equal(t, true, claims["isAdmin"])
		assert.Equal(t, "vidloom-accounts", claims["iss"])
		assert.NotEmpty(t, claims["jti"])
	})
}

func TestService_Expiry(t *testing.T) {
	clock := authtest.NewClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.AccessTTL = time.Hour
	cfg.RefreshTTL = 2 * time.Hour
	svc, err := token.NewService(cfg, token.WithClock(clock.Now))
	require.NoError(t, err)

	pair, err := svc.IssuePair(testIdentity())
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	_, err = svc.VerifyAccess(pair.AccessToken)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeTokenExpired)

	_, err = svc.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err, "refresh token outlives access token")

	clock.Advance(time.Hour)
	_, err = svc.VerifyRefresh(pair.RefreshToken)
	errutil.AssertErrorCode(t, err, auth.CodeTokenExpired)
}

func TestService_RejectsForeignTokens(t *testing.T) {
	svc, err := token.NewService(testConfig())
	require.NoError(t, err)

	sign := func(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, secret string) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   ulid.Make().String(),
			Issuer:    "vidloom-accounts",
			Audience:  jwt.ClaimStrings{"vidloom-app"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	t.Run("malformed", func(t *testing.T) {
		_, err := svc.VerifyAccess("not.a.jwt")
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := svc.VerifyAccess("")
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		tok := sign(t, jwt.SigningMethodHS384, valid(), "access-secret-for-tests")
		_, err := svc.VerifyAccess(tok)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("tampered signature", func(t *testing.T) {
		tok := sign(t, jwt.SigningMethodHS256, valid(), "access-secret-for-tests")
		tampered := tok[:strings.LastIndex(tok, ".")+1] + "AAAA"
		_, err := svc.VerifyAccess(tampered)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := valid()
		claims.Issuer = "someone-else"
		_, err := svc.VerifyAccess(sign(t, jwt.SigningMethodHS256, claims, "access-secret-for-tests"))
		errutil.AssertErrorCode(t, err, auth.CodeTokenVerifyFailed)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := valid()
		claims.Audience = jwt.ClaimStrings{"other-app"}
		_, err := svc.VerifyAccess(sign(t, jwt.SigningMethodHS256, claims, "access-secret-for-tests"))
		errutil.AssertErrorCode(t, err, auth.CodeTokenVerifyFailed)
	})

	t.Run("missing expiry", func(t *testing.T) {
		claims := valid()
		claims.ExpiresAt = nil
		_, err := svc.VerifyAccess(sign(t, jwt.SigningMethodHS256, claims, "access-secret-for-tests"))
		errutil.AssertErrorCode(t, err, auth.CodeTokenVerifyFailed)
	})

	t.Run("subject is not a user id", func(t *testing.T) {
		claims := valid()
		claims.Subject = "42"
		_, err := svc.VerifyAccess(sign(t, jwt.SigningMethodHS256, claims, "access-secret-for-tests"))
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})
}
