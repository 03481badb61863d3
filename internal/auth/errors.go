// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by repositories when an email is already stored.
var ErrEmailTaken = errors.New("email already in use")

// Error codes raised by the auth service and its collaborators.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeAlreadyVerified    = "AUTH_ALREADY_VERIFIED"
	CodeCodeMissing        = "AUTH_CODE_MISSING"
	CodeCodeExpired        = "AUTH_CODE_EXPIRED"
	CodeCodeMismatch       = "AUTH_CODE_MISMATCH"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeInvalidResetCode   = "AUTH_INVALID_RESET_CODE"
	CodeIncorrectPassword  = "AUTH_INCORRECT_PASSWORD"
	CodeForbidden          = "AUTH_FORBIDDEN"
	CodeNotificationFailed = "AUTH_NOTIFICATION_FAILED"
	CodeInternal           = "AUTH_INTERNAL"

	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeTokenInvalid      = "TOKEN_INVALID"
	CodeTokenVerifyFailed = "TOKEN_VERIFY_FAILED"
)

// Kind classifies an error for callers that render it, such as the REST layer.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

var kindByCode = map[string]Kind{
	CodeValidationFailed:   KindValidation,
	CodeEmptyPassword:      KindValidation,
	CodeAlreadyVerified:    KindValidation,
	CodeEmailTaken:         KindConflict,
	CodeUserNotFound:       KindNotFound,
	CodeCodeMissing:        KindUnauthorized,
	CodeCodeExpired:        KindUnauthorized,
	CodeCodeMismatch:       KindUnauthorized,
	CodeInvalidCredentials: KindUnauthorized,
	CodeEmailNotVerified:   KindUnauthorized,
	CodeInvalidToken:       KindUnauthorized,
	CodeInvalidResetCode:   KindUnauthorized,
	CodeIncorrectPassword:  KindUnauthorized,
	CodeTokenExpired:       KindUnauthorized,
	CodeTokenInvalid:       KindUnauthorized,
	CodeTokenVerifyFailed:  KindUnauthorized,
	CodeForbidden:          KindForbidden,
}

// ErrorCode returns the oops code carried by err, or "" if there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// KindOf classifies err. Errors without a known code are internal.
func KindOf(err error) Kind {
	if kind, ok := kindByCode[ErrorCode(err)]; ok {
		return kind
	}
	return KindInternal
}

// IsOperational reports whether err is an expected, user-facing failure whose
// message may be shown to the caller verbatim.
func IsOperational(err error) bool {
	return KindOf(err) != KindInternal
}
