// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package auth

import (
	"context"
	"time"
)

// MessageKind identifies an outbound account email.
type MessageKind string

// Message kinds.
const (
	MessageVerificationCode  MessageKind = "verification_code"
	MessageWelcome           MessageKind = "welcome"
	MessagePasswordResetCode MessageKind = "password_reset_code"
	MessagePasswordChanged   MessageKind = "password_changed"
	MessageAccountDeleted    MessageKind = "account_deleted"
)

// Message is a single notification addressed to one user.
// Code and ExpiresIn are set only for code-bearing kinds.
type Message struct {
	Kind      MessageKind
	To        string
	Name      string
	Code      string
	ExpiresIn time.Duration
}

// Notifier delivers account emails. Send blocks until the message is accepted
// for delivery or fails.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
