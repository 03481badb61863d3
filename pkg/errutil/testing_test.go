// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/vidloom/accounts/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	// Should not fail
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("user_id", "123").Errorf("test error")
	// Should not fail
	errutil.AssertErrorContext(t, err, "user_id", "123")
}

func TestAssertErrorContext_NestedWrap(t *testing.T) {
	inner := oops.Code("USER_NOT_FOUND").With("id", "01J0").Errorf("not found")
	err := oops.With("operation", "load user").Wrap(inner)
	errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	errutil.AssertErrorContext(t, err, "id", "01J0")
	errutil.AssertErrorContext(t, err, "operation", "load user")
}

func TestAssertClientError_MatchingMessage(t *testing.T) {
	err := oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
	errutil.AssertClientError(t, err, "AUTH_INVALID_CREDENTIALS", "invalid email or password")
}
