// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package postgres provides a PostgreSQL-backed auth.UserRepository.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/vidloom/accounts/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool used by the repository.
// pgxmock.PgxPoolIface satisfies it as well.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const userColumns = `id, name, email, password_hash, email_verified,
	verification_code, verification_expires_at, reset_code, reset_expires_at,
	plan, is_admin, connected_platforms, videos_generated, last_login_at,
	created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	verifyCode, verifyExpires := splitCode(user.Verification)
	resetCode, resetExpires := splitCode(user.PasswordReset)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		user.ID.String(),
		user.Name,
		auth.NormalizeEmail(user.Email),
		user.PasswordHash,
		user.EmailVerified,
		verifyCode,
		verifyExpires,
		resetCode,
		resetExpires,
		string(user.Plan),
		user.IsAdmin,
		platformStrings(user.ConnectedPlatforms),
		user.VideosGenerated,
		user.LastLoginAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_EMAIL_TAKEN").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = $1`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// Update replaces every mutable column of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	verifyCode, verifyExpires := splitCode(user.Verification)
	resetCode, resetExpires := splitCode(user.PasswordReset)

	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			name = $2,
			email = $3,
			password_hash = $4,
			email_verified = $5,
			verification_code = $6,
			verification_expires_at = $7,
			reset_code = $8,
			reset_expires_at = $9,
			plan = $10,
			is_admin = $11,
			connected_platforms = $12,
			videos_generated = $13,
			last_login_at = $14,
			updated_at = $15
		WHERE id = $1
	`,
		user.ID.String(),
		user.Name,
		auth.NormalizeEmail(user.Email),
		user.PasswordHash,
		user.EmailVerified,
		verifyCode,
		verifyExpires,
		resetCode,
		resetExpires,
		string(user.Plan),
		user.IsAdmin,
		platformStrings(user.ConnectedPlatforms),
		user.VideosGenerated,
		user.LastLoginAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_EMAIL_TAKEN").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Ping checks database connectivity.
func (r *UserRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return oops.Code("USER_STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr         string
		user          auth.User
		verifyCode    *string
		verifyExpires *time.Time
		resetCode     *string
		resetExpires  *time.Time
		plan          string
		platforms     []string
	)

	err := row.Scan(
		&idStr,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.EmailVerified,
		&verifyCode,
		&verifyExpires,
		&resetCode,
		&resetExpires,
		&plan,
		&user.IsAdmin,
		&platforms,
		&user.VideosGenerated,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	user.ID = id
	user.Plan = auth.Plan(plan)
	if !user.Plan.Valid() {
		return nil, oops.Code("USER_INVALID_PLAN").
			With("id", idStr).
			With("plan", plan).
			Errorf("stored user has unknown plan %q", plan)
	}
	user.Verification = joinCode(verifyCode, verifyExpires)
	user.PasswordReset = joinCode(resetCode, resetExpires)
	if len(platforms) > 0 {
		user.ConnectedPlatforms = make([]auth.Platform, len(platforms))
		for i, p := range platforms {
			user.ConnectedPlatforms[i] = auth.Platform(p)
		}
	}
	return &user, nil
}

// splitCode maps an outstanding code to nullable columns.
func splitCode(c *auth.OneTimeCode) (*string, *time.Time) {
	if c == nil {
		return nil, nil
	}
	code, expires := c.Code, c.ExpiresAt
	return &code, &expires
}

// joinCode is the inverse of splitCode. Both columns must be set.
func joinCode(code *string, expires *time.Time) *auth.OneTimeCode {
	if code == nil || expires == nil {
		return nil
	}
	return &auth.OneTimeCode{Code: *code, ExpiresAt: *expires}
}

func platformStrings(platforms []auth.Platform) []string {
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = string(p)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
