// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/vidloom/accounts/pkg/errutil"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// OutcomeRecorder receives the outcome of every service operation.
// outcome is "success" or the Kind of the returned error.
type OutcomeRecorder func(operation, outcome string)

// Service orchestrates the account lifecycle.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	notifier Notifier
	codes    CodeGenerator
	now      func() time.Time
	logger   *slog.Logger
	recorder OutcomeRecorder
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service)

// WithCodeGenerator replaces the default random six-digit code generator.
func WithCodeGenerator(g CodeGenerator) ServiceOption {
	return func(s *Service) {
		s.codes = g
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithOutcomeRecorder registers a callback invoked after every operation.
func WithOutcomeRecorder(r OutcomeRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a new Service. All four collaborators are required.
func NewService(users UserRepository, hasher PasswordHasher, tokens TokenIssuer, notifier Notifier, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token issuer is required")
	}
	if notifier == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("notifier is required")
	}
	s := &Service{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		codes:    RandomCodeGenerator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codes == nil || s.now == nil || s.logger == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("code generator, clock, and logger must not be nil")
	}
	return s, nil
}

// Register creates an unverified account, or overwrites an existing
// unverified one, and emails a verification code. It returns the id the
// client must present to VerifyEmail.
func (s *Service) Register(ctx context.Context, name, email, password string) (id ulid.ULID, err error) {
	defer func() { s.observe("register", err) }()

	email = NormalizeEmail(email)
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ulid.ULID{}, s.internal("register", "get user by email", err)
	}
	if err == nil && existing.EmailVerified {
		return ulid.ULID{}, oops.Code(CodeEmailTaken).
			With("email", email).
			Errorf("an account with this email already exists")
	}

	now := s.now()
	user := existing
	if user == nil {
		user, err = NewUser(name, email, now)
		if err != nil {
			return ulid.ULID{}, err
		}
	} else {
		if err := ValidateName(name); err != nil {
			return ulid.ULID{}, err
		}
		user.Name = strings.TrimSpace(name)
		user.UpdatedAt = now
	}

	if err := user.SetPassword(s.hasher, password); err != nil {
		return ulid.ULID{}, err
	}

	code, err := s.codes.Generate()
	if err != nil {
		return ulid.ULID{}, s.internal("register", "generate code", err)
	}
	user.IssueVerification(code, now)

	if existing == nil {
		err = s.users.Create(ctx, user)
		if errors.Is(err, ErrEmailTaken) {
			err = s.overwriteConcurrent(ctx, user)
		}
	} else {
		err = s.users.Update(ctx, user)
	}
	if errors.Is(err, ErrEmailTaken) {
		return ulid.ULID{}, oops.Code(CodeEmailTaken).
			With("email", email).
			Errorf("an account with this email already exists")
	}
	if err != nil {
		return ulid.ULID{}, s.internal("register", "save user", err)
	}

	if err := s.dispatch(ctx, Message{
		Kind:      MessageVerificationCode,
		To:        user.Email,
		Name:      user.Name,
		Code:      code,
		ExpiresIn: CodeTTL,
	}); err != nil {
		return ulid.ULID{}, err
	}

	return user.ID, nil
}

// overwriteConcurrent handles a Create that lost a race with another
// registration for the same email. An unverified winner is overwritten with
// user's details, keeping the winner's id; a verified one stays a conflict.
func (s *Service) overwriteConcurrent(ctx context.Context, user *User) error {
	winner, err := s.users.GetByEmail(ctx, user.Email)
	if errors.Is(err, ErrNotFound) {
		return ErrEmailTaken
	}
	if err != nil {
		return err
	}
	if winner.EmailVerified {
		return ErrEmailTaken
	}
	user.ID = winner.ID
	user.CreatedAt = winner.CreatedAt
	return s.users.Update(ctx, user)
}

// VerifyEmail consumes the verification code, marks the account verified,
// and signs the user in.
func (s *Service) VerifyEmail(ctx context.Context, id ulid.ULID, code string) (session *Session, err error) {
	defer func() { s.observe("verify_email", err) }()

	user, err := s.load(ctx, "verify_email", id)
	if err != nil {
		return nil, err
	}
	if user.EmailVerified {
		return nil, oops.Code(CodeAlreadyVerified).
			With("user_id", id.String()).
			Errorf("email is already verified")
	}

	now := s.now()
	switch user.Verification.Check(code, now) {
	case CodeMissing:
		return nil, oops.Code(CodeCodeMissing).Errorf("no verification code found, please request a new one")
	case CodeExpired:
		return nil, oops.Code(CodeCodeExpired).Errorf("verification code has expired, please request a new one")
	case CodeMismatch:
		return nil, oops.Code(CodeCodeMismatch).Errorf("invalid verification code")
	}

	user.MarkVerified(now)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, s.internal("verify_email", "update user", err)
	}

	session, err = s.session("verify_email", user)
	if err != nil {
		return nil, err
	}

	s.bestEffort(ctx, Message{Kind: MessageWelcome, To: user.Email, Name: user.Name})
	return session, nil
}

// ResendVerification issues a fresh verification code, invalidating the previous one.
func (s *Service) ResendVerification(ctx context.Context, id ulid.ULID) (err error) {
	defer func() { s.observe("resend_verification", err) }()

	user, err := s.load(ctx, "resend_verification", id)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return oops.Code(CodeAlreadyVerified).
			With("user_id", id.String()).
			Errorf("email is already verified")
	}

	code, err := s.codes.Generate()
	if err != nil {
		return s.internal("resend_verification", "generate code", err)
	}
	now := s.now()
	user.IssueVerification(code, now)
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return s.internal("resend_verification", "update user", err)
	}

	return s.dispatch(ctx, Message{
		Kind:      MessageVerificationCode,
		To:        user.Email,
		Name:      user.Name,
		Code:      code,
		ExpiresIn: CodeTTL,
	})
}

// Login authenticates a verified user by email and password.
// Unknown emails and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (session *Session, err error) {
	defer func() { s.observe("login", err) }()

	email = NormalizeEmail(email)
	user, lookupErr := s.users.GetByEmail(ctx, email)

	var targetHash string
	var userExists bool
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, s.internal("login", "get user by email", lookupErr)
		}
		targetHash = dummyPasswordHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify so unknown emails cost the same as known ones.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		return nil, s.internal("login", "verify password", verifyErr)
	}
	if !userExists || !valid {
		return nil, errInvalidCredentials()
	}

	// Checked after the password so an unverified account is only revealed
	// to someone who knows its password.
	if !user.EmailVerified {
		return nil, oops.Code(CodeEmailNotVerified).
			With("user_id", user.ID.String()).
			Errorf("please verify your email before logging in")
	}

	now := s.now()
	user.RecordLogin(now)

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if err := user.SetPassword(s.hasher, password); err != nil {
			s.logger.WarnContext(ctx, "password hash upgrade failed", "user_id", user.ID.String(), "error", err)
		}
	}

	if err := s.users.Update(ctx, user); err != nil {
		errutil.LogError(ctx, s.logger, "failed to record login", err)
	}

	return s.session("login", user)
}

// RefreshToken exchanges a refresh token for a new token pair built from the
// current user record.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	defer func() { s.observe("refresh_token", err) }()

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, oops.Code(CodeInvalidToken).
			With("reason", ErrorCode(err)).
			Errorf("invalid or expired refresh token")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, oops.Code(CodeInvalidToken).
			With("user_id", claims.UserID.String()).
			Errorf("invalid or expired refresh token")
	}
	if err != nil {
		return TokenPair{}, s.internal("refresh_token", "get user by id", err)
	}

	pair, err = s.tokens.IssuePair(user.Identity())
	if err != nil {
		return TokenPair{}, s.internal("refresh_token", "issue tokens", err)
	}
	return pair, nil
}

// ForgotPassword emails a reset code to a verified account. It reports
// success whether or not the email belongs to an account.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.observe("forgot_password", err) }()

	email = NormalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.internal("forgot_password", "get user by email", err)
	}
	if !user.EmailVerified {
		s.logger.DebugContext(ctx, "password reset requested for unverified account", "user_id", user.ID.String())
		return nil
	}

	code, err := s.codes.Generate()
	if err != nil {
		return s.internal("forgot_password", "generate code", err)
	}

	previous := user.PasswordReset
	now := s.now()
	user.IssuePasswordReset(code, now)
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return s.internal("forgot_password", "update user", err)
	}

	sendErr := s.dispatch(ctx, Message{
		Kind:      MessagePasswordResetCode,
		To:        user.Email,
		Name:      user.Name,
		Code:      code,
		ExpiresIn: CodeTTL,
	})
	if sendErr != nil {
		// The user never saw this code, so it must not linger.
		user.PasswordReset = previous
		if err := s.users.Update(ctx, user); err != nil {
			errutil.LogError(ctx, s.logger, "failed to roll back password reset code", err)
		}
		return sendErr
	}
	return nil
}

// VerifyResetCode checks a reset code without consuming it.
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) (err error) {
	defer func() { s.observe("verify_reset_code", err) }()

	_, err = s.resetTarget(ctx, "verify_reset_code", email, code)
	return err
}

// ResetPassword consumes a reset code, replaces the password, and signs the user in.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) (session *Session, err error) {
	defer func() { s.observe("reset_password", err) }()

	user, err := s.resetTarget(ctx, "reset_password", email, code)
	if err != nil {
		return nil, err
	}

	if err := user.SetPassword(s.hasher, newPassword); err != nil {
		return nil, err
	}
	user.PasswordReset = nil
	user.RecordLogin(s.now())
	if err := s.users.Update(ctx, user); err != nil {
		return nil, s.internal("reset_password", "update user", err)
	}

	session, err = s.session("reset_password", user)
	if err != nil {
		return nil, err
	}

	s.bestEffort(ctx, Message{Kind: MessagePasswordChanged, To: user.Email, Name: user.Name})
	return session, nil
}

// GetProfile returns the user's public profile.
func (s *Service) GetProfile(ctx context.Context, id ulid.ULID) (profile Profile, err error) {
	defer func() { s.observe("get_profile", err) }()

	user, err := s.load(ctx, "get_profile", id)
	if err != nil {
		return Profile{}, err
	}
	return user.Profile(), nil
}

// UpdateProfile replaces the user's display name.
func (s *Service) UpdateProfile(ctx context.Context, id ulid.ULID, name string) (profile Profile, err error) {
	defer func() { s.observe("update_profile", err) }()

	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}

	user, err := s.load(ctx, "update_profile", id)
	if err != nil {
		return Profile{}, err
	}

	user.Name = strings.TrimSpace(name)
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return Profile{}, s.internal("update_profile", "update user", err)
	}
	return user.Profile(), nil
}

// ChangePassword replaces the password after re-checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id ulid.ULID, currentPassword, newPassword string) (err error) {
	defer func() { s.observe("change_password", err) }()

	user, err := s.load(ctx, "change_password", id)
	if err != nil {
		return err
	}

	if err := s.reauthenticate(user, currentPassword, "current password is incorrect"); err != nil {
		return err
	}

	if err := user.SetPassword(s.hasher, newPassword); err != nil {
		return err
	}
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return s.internal("change_password", "update user", err)
	}

	s.bestEffort(ctx, Message{Kind: MessagePasswordChanged, To: user.Email, Name: user.Name})
	return nil
}

// DeleteAccount permanently removes the account after re-checking the password.
func (s *Service) DeleteAccount(ctx context.Context, id ulid.ULID, password string) (err error) {
	defer func() { s.observe("delete_account", err) }()

	user, err := s.load(ctx, "delete_account", id)
	if err != nil {
		return err
	}

	if err := s.reauthenticate(user, password, "password is incorrect"); err != nil {
		return err
	}

	err = s.users.Delete(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		return errUserNotFound(id)
	}
	if err != nil {
		return s.internal("delete_account", "delete user", err)
	}

	s.bestEffort(ctx, Message{Kind: MessageAccountDeleted, To: user.Email, Name: user.Name})
	return nil
}

// load fetches a user by id, mapping absence to CodeUserNotFound.
func (s *Service) load(ctx context.Context, operation string, id ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, errUserNotFound(id)
	}
	if err != nil {
		return nil, s.internal(operation, "get user by id", err)
	}
	return user, nil
}

// resetTarget returns the user whose outstanding reset code matches code.
// Every failure is reported as the same invalid-code error.
func (s *Service) resetTarget(ctx context.Context, operation, email, code string) (*User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, errInvalidResetCode()
	}
	if err != nil {
		return nil, s.internal(operation, "get user by email", err)
	}
	if user.PasswordReset.Check(code, s.now()) != CodeValid {
		return nil, errInvalidResetCode()
	}
	return user, nil
}

func (s *Service) reauthenticate(user *User, password, message string) error {
	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return s.internal("reauthenticate", "verify password", err)
	}
	if !ok {
		return oops.Code(CodeIncorrectPassword).
			With("user_id", user.ID.String()).
			Errorf("%s", message)
	}
	return nil
}

func (s *Service) session(operation string, user *User) (*Session, error) {
	pair, err := s.tokens.IssuePair(user.Identity())
	if err != nil {
		return nil, s.internal(operation, "issue tokens", err)
	}
	return &Session{User: user.Profile(), Tokens: pair}, nil
}

// dispatch sends a message the user depends on, such as a code. Failure is
// logged and surfaced as an internal error.
func (s *Service) dispatch(ctx context.Context, msg Message) error {
	if err := s.notifier.Send(ctx, msg); err != nil {
		errutil.LogError(ctx, s.logger, "notification delivery failed", err)
		return oops.Code(CodeNotificationFailed).
			With("kind", string(msg.Kind)).
			Errorf("failed to send email, please try again")
	}
	return nil
}

// bestEffort sends a courtesy message. Failure is logged only.
func (s *Service) bestEffort(ctx context.Context, msg Message) {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "best-effort notification failed",
			"kind", string(msg.Kind),
			"error", err)
	}
}

func (s *Service) internal(operation, step string, err error) error {
	return oops.Code(CodeInternal).
		With("operation", operation).
		With("step", step).
		Wrap(err)
}

func (s *Service) observe(operation string, err error) {
	if s.recorder == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	s.recorder(operation, outcome)
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func errInvalidResetCode() error {
	return oops.Code(CodeInvalidResetCode).Errorf("invalid or expired reset code")
}

func errUserNotFound(id ulid.ULID) error {
	return oops.Code(CodeUserNotFound).
		With("user_id", id.String()).
		Errorf("user not found")
}
