// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package notify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/gomail.v2"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/notify"
	"github.com/vidloom/accounts/pkg/errutil"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) DialAndSend(msgs ...*gomail.Message) error {
	args := m.Called(msgs[0])
	return args.Error(0)
}

// blockingSender blocks until release is closed.
type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) DialAndSend(_ ...*gomail.Message) error {
	<-b.release
	return nil
}

func testConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:        "smtp.example.com",
		Port:        587,
		From:        "no-reply@example.com",
		FromName:    "Vidloom",
		AppName:     "Vidloom",
		MaxAttempts: 3,
		SendTimeout: time.Second,
		RetryBase:   time.Millisecond,
	}
}

func codeMessage() auth.Message {
	return auth.Message{
		Kind:      auth.MessageVerificationCode,
		To:        "ann@example.com",
		Name:      "Ann",
		Code:      "123456",
		ExpiresIn: auth.CodeTTL,
	}
}

func TestNewSMTPGateway_RequiresHostAndFrom(t *testing.T) {
	_, err := notify.NewSMTPGateway(notify.SMTPConfig{From: "a@example.com"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "NOTIFY_INVALID_CONFIG")

	_, err = notify.NewSMTPGateway(notify.SMTPConfig{Host: "smtp.example.com"})
	require.Error(t, err)
}

func TestSMTPGateway_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers composed message", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		sender := &mockSender{}
		sender.On("DialAndSend", mock.MatchedBy(func(m *gomail.Message) bool {
			return assert.ObjectsAreEqual([]string{"ann@example.com"}, m.GetHeader("To")) &&
				assert.ObjectsAreEqual([]string{"Vidloom: Verify your email"}, m.GetHeader("Subject"))
		})).Return(nil).Once()

		gw, err := notify.NewSMTPGateway(testConfig(), notify.WithSender(sender))
		require.NoError(t, err)

		require.NoError(t, gw.Send(ctx, codeMessage()))
		sender.AssertExpectations(t)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		sender := &mockSender{}
		sender.On("DialAndSend", mock.Anything).Return(errors.New("421 try again")).Twice()
		sender.On("DialAndSend", mock.Anything).Return(nil).Once()

		gw, err := notify.NewSMTPGateway(testConfig(), notify.WithSender(sender))
		require.NoError(t, err)

		require.NoError(t, gw.Send(ctx, codeMessage()))
		sender.AssertNumberOfCalls(t, "DialAndSend", 3)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		var logs bytes.Buffer
		sender := &mockSender{}
		sender.On("DialAndSend", mock.Anything).Return(errors.New("550 mailbox unavailable"))

		gw, err := notify.NewSMTPGateway(testConfig(),
			notify.WithSender(sender),
			notify.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
		require.NoError(t, err)

		err = gw.Send(ctx, codeMessage())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "NOTIFY_SEND_FAILED")
		errutil.AssertErrorContext(t, err, "attempts", 3)
		assert.Contains(t, err.Error(), "550 mailbox unavailable")
		sender.AssertNumberOfCalls(t, "DialAndSend", 3)
		assert.Contains(t, logs.String(), "email delivery attempt failed")
	})

	t.Run("bounds a stalled attempt", func(t *testing.T) {
		sender := &blockingSender{release: make(chan struct{})}
		cfg := testConfig()
		cfg.MaxAttempts = 1
		cfg.SendTimeout = 20 * time.Millisecond

		gw, err := notify.NewSMTPGateway(cfg, notify.WithSender(sender))
		require.NoError(t, err)

		start := time.Now()
		err = gw.Send(ctx, codeMessage())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)

		close(sender.release)
		goleak.VerifyNone(t)
	})

	t.Run("stops when the caller cancels", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		sender := &mockSender{}
		sender.On("DialAndSend", mock.Anything).Return(errors.New("connection refused")).Maybe()

		gw, err := notify.NewSMTPGateway(testConfig(), notify.WithSender(sender))
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err = gw.Send(cancelled, codeMessage())
		require.Error(t, err)
	})

	t.Run("rejects empty recipient", func(t *testing.T) {
		gw, err := notify.NewSMTPGateway(testConfig(), notify.WithSender(&mockSender{}))
		require.NoError(t, err)

		msg := codeMessage()
		msg.To = "  "
		err = gw.Send(ctx, msg)
		errutil.AssertErrorCode(t, err, "NOTIFY_INVALID_RECIPIENT")
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		gw, err := notify.NewSMTPGateway(testConfig(), notify.WithSender(&mockSender{}))
		require.NoError(t, err)

		msg := codeMessage()
		msg.Kind = "newsletter"
		err = gw.Send(ctx, msg)
		errutil.AssertErrorCode(t, err, "NOTIFY_UNKNOWN_KIND")
	})
}

func TestLogGateway_Send(t *testing.T) {
	var buf bytes.Buffer
	gw := notify.NewLogGateway(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, gw.Send(context.Background(), codeMessage()))
	assert.Contains(t, buf.String(), `"code":"123456"`)
	assert.Contains(t, buf.String(), `"kind":"verification_code"`)

	buf.Reset()
	require.NoError(t, gw.Send(context.Background(), auth.Message{Kind: auth.MessageWelcome, To: "ann@example.com"}))
	assert.NotContains(t, buf.String(), `"code"`)
}
