// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Plan is a subscription tier. It is stored but not enforced here.
type Plan string

// Plans.
const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanPremium:
		return true
	}
	return false
}

// Platform is an external publishing platform a user may connect.
type Platform string

// Platforms.
const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformX         Platform = "x"
)

// Name length constraints.
const (
	MinNameLength = 2
	MaxNameLength = 50
)

// User is an account record.
type User struct {
	ID                 ulid.ULID
	Name               string
	Email              string
	PasswordHash       string
	EmailVerified      bool
	Verification       *OneTimeCode
	PasswordReset      *OneTimeCode
	Plan               Plan
	IsAdmin            bool
	ConnectedPlatforms []Platform
	VideosGenerated    int
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NormalizeEmail case-folds and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName checks a display name against length rules.
func ValidateName(name string) error {
	n := len([]rune(strings.TrimSpace(name)))
	if n < MinNameLength || n > MaxNameLength {
		return oops.Code(CodeValidationFailed).
			With("min", MinNameLength).
			With("max", MaxNameLength).
			Errorf("name must be between %d and %d characters", MinNameLength, MaxNameLength)
	}
	return nil
}

// NewUser creates an unverified user on the free plan.
func NewUser(name, email string, now time.Time) (*User, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code(CodeValidationFailed).Errorf("email is required")
	}
	return &User{
		ID:        ulid.Make(),
		Name:      strings.TrimSpace(name),
		Email:     email,
		Plan:      PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetPassword hashes plaintext and stores the result. It is the only way a
// password is assigned.
func (u *User) SetPassword(hasher PasswordHasher, plaintext string) error {
	hash, err := hasher.Hash(plaintext)
	if err != nil {
		return oops.With("operation", "hash password").Wrap(err)
	}
	u.PasswordHash = hash
	return nil
}

// IssueVerification replaces any outstanding verification code.
func (u *User) IssueVerification(code string, now time.Time) {
	u.Verification = NewOneTimeCode(code, now)
}

// IssuePasswordReset replaces any outstanding reset code.
func (u *User) IssuePasswordReset(code string, now time.Time) {
	u.PasswordReset = NewOneTimeCode(code, now)
}

// MarkVerified sets the account verified and clears the verification code.
func (u *User) MarkVerified(now time.Time) {
	u.EmailVerified = true
	u.Verification = nil
	u.RecordLogin(now)
}

// RecordLogin stamps the last login time.
func (u *User) RecordLogin(now time.Time) {
	t := now
	u.LastLoginAt = &t
	u.UpdatedAt = now
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Verification != nil {
		v := *u.Verification
		c.Verification = &v
	}
	if u.PasswordReset != nil {
		r := *u.PasswordReset
		c.PasswordReset = &r
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	if u.ConnectedPlatforms != nil {
		c.ConnectedPlatforms = append([]Platform(nil), u.ConnectedPlatforms...)
	}
	return &c
}

// Profile is the externally visible projection of a User.
type Profile struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	IsEmailVerified    bool       `json:"isEmailVerified"`
	Plan               Plan       `json:"plan"`
	IsAdmin            bool       `json:"isAdmin"`
	ConnectedPlatforms []Platform `json:"connectedPlatforms"`
	VideosGenerated    int        `json:"videosGenerated"`
	LastLoginAt        *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Profile projects u without its password hash or one-time codes.
func (u *User) Profile() Profile {
	platforms := u.ConnectedPlatforms
	if platforms == nil {
		platforms = []Platform{}
	}
	return Profile{
		ID:                 u.ID.String(),
		Name:               u.Name,
		Email:              u.Email,
		IsEmailVerified:    u.EmailVerified,
		Plan:               u.Plan,
		IsAdmin:            u.IsAdmin,
		ConnectedPlatforms: append([]Platform(nil), platforms...),
		VideosGenerated:    u.VideosGenerated,
		LastLoginAt:        u.LastLoginAt,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

// Identity is the claim set carried by access and refresh tokens.
type Identity struct {
	UserID  ulid.ULID
	Email   string
	Plan    Plan
	IsAdmin bool
}

// Identity returns the token claims for u.
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, Plan: u.Plan, IsAdmin: u.IsAdmin}
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrEmailTaken if the email is in use.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update replaces an existing user. Returns ErrNotFound if absent.
	Update(ctx context.Context, user *User) error

	// Delete permanently removes a user. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id ulid.ULID) error
}
