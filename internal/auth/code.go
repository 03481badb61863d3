// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/samber/oops"
)

// CodeTTL is how long an email verification or password reset code stays valid.
const CodeTTL = 10 * time.Minute

// Six-digit code range, inclusive.
const (
	minCode = 100000
	maxCode = 999999
)

// CodeGenerator produces one-time codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws codes uniformly from [100000, 999999] using crypto/rand.
type RandomCodeGenerator struct{}

// Generate returns a six-digit numeric code.
func (RandomCodeGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", oops.Code("AUTH_CODE_GENERATION_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%06d", n.Int64()+minCode), nil
}

// OneTimeCode is a stored code together with its expiry. A nil *OneTimeCode
// means no code is outstanding.
type OneTimeCode struct {
	Code      string
	ExpiresAt time.Time
}

// NewOneTimeCode creates a code that expires CodeTTL after now.
func NewOneTimeCode(code string, now time.Time) *OneTimeCode {
	return &OneTimeCode{Code: code, ExpiresAt: now.Add(CodeTTL)}
}

// CodeCheck is the outcome of presenting a code.
type CodeCheck int

// Code check outcomes.
const (
	CodeValid CodeCheck = iota
	CodeMissing
	CodeExpired
	CodeMismatch
)

// Check compares presented against the stored code at time now.
// A code is valid only while now is strictly before ExpiresAt.
func (c *OneTimeCode) Check(presented string, now time.Time) CodeCheck {
	if c == nil || c.Code == "" {
		return CodeMissing
	}
	if !now.Before(c.ExpiresAt) {
		return CodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(presented)) != 1 {
		return CodeMismatch
	}
	return CodeValid
}
