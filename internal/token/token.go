// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package token issues and verifies signed access and refresh tokens.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/vidloom/accounts/internal/auth"
)

// Default lifetimes.
const (
	DefaultAccessTTL  = 7 * 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Config holds the signing material and claim expectations.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Validate checks that both secrets are set and distinct.
func (c Config) Validate() error {
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		return oops.Code("TOKEN_INVALID_CONFIG").Errorf("access and refresh secrets are required")
	}
	if c.AccessSecret == c.RefreshSecret {
		return oops.Code("TOKEN_INVALID_CONFIG").Errorf("access and refresh secrets must differ")
	}
	if c.Issuer == "" || c.Audience == "" {
		return oops.Code("TOKEN_INVALID_CONFIG").Errorf("issuer and audience are required")
	}
	if c.AccessTTL < 0 || c.RefreshTTL < 0 {
		return oops.Code("TOKEN_INVALID_CONFIG").Errorf("token lifetimes must not be negative")
	}
	return nil
}

// Claims is the token payload.
type Claims struct {
	Email   string    `json:"email"`
	Plan    auth.Plan `json:"plan"`
	IsAdmin bool      `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Service signs tokens with HS256.
type Service struct {
	cfg Config
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service. Zero lifetimes take the defaults.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssuePair signs an access token and a refresh token for id.
func (s *Service) IssuePair(id auth.Identity) (auth.TokenPair, error) {
	access, err := s.sign(id, s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return auth.TokenPair{}, oops.Code("TOKEN_SIGN_FAILED").With("token", "access").Wrap(err)
	}
	refresh, err := s.sign(id, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return auth.TokenPair{}, oops.Code("TOKEN_SIGN_FAILED").With("token", "refresh").Wrap(err)
	}
	return auth.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess validates an access token.
func (s *Service) VerifyAccess(token string) (auth.Identity, error) {
	return s.verify(token, s.cfg.AccessSecret)
}

// VerifyRefresh validates a refresh token.
func (s *Service) VerifyRefresh(token string) (auth.Identity, error) {
	return s.verify(token, s.cfg.RefreshSecret)
}

func (s *Service) sign(id auth.Identity, secret string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Email:   id.Email,
		Plan:    id.Plan,
		IsAdmin: id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ulid.Make().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Service) verify(token, secret string) (auth.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return auth.Identity{}, classify(err)
	}
	if !parsed.Valid {
		return auth.Identity{}, oops.Code(auth.CodeTokenVerifyFailed).Errorf("token is not valid")
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return auth.Identity{}, oops.Code(auth.CodeTokenInvalid).
			With("subject", claims.Subject).
			Wrap(err)
	}

	return auth.Identity{
		UserID:  userID,
		Email:   claims.Email,
		Plan:    claims.Plan,
		IsAdmin: claims.IsAdmin,
	}, nil
}

// classify maps parser errors to expired, invalid, or other.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code(auth.CodeTokenExpired).Wrap(err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return oops.Code(auth.CodeTokenInvalid).Wrap(err)
	default:
		return oops.Code(auth.CodeTokenVerifyFailed).Wrap(err)
	}
}

var _ auth.TokenIssuer = (*Service)(nil)
