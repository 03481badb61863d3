// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package notify delivers account emails.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"gopkg.in/gomail.v2"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/observability"
)

// Delivery defaults.
const (
	DefaultMaxAttempts = 3
	DefaultSendTimeout = 15 * time.Second
	DefaultRetryBase   = 500 * time.Millisecond
)

// Sender delivers composed messages. *gomail.Dialer satisfies it; the
// default sender also puts a deadline on the connection.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig configures an SMTPGateway.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	AppName  string

	// MaxAttempts bounds delivery attempts per message, including the first.
	MaxAttempts int
	// SendTimeout bounds a single attempt.
	SendTimeout time.Duration
	// RetryBase is the first backoff interval; later ones double.
	RetryBase time.Duration
}

// SMTPGateway implements auth.Notifier over SMTP.
type SMTPGateway struct {
	cfg    SMTPConfig
	sender Sender
	logger *slog.Logger
}

// SMTPOption configures an SMTPGateway.
type SMTPOption func(*SMTPGateway)

// WithSender replaces the gomail dialer, typically in tests.
func WithSender(s Sender) SMTPOption {
	return func(g *SMTPGateway) {
		g.sender = s
	}
}

// WithLogger sets the gateway's logger.
func WithLogger(logger *slog.Logger) SMTPOption {
	return func(g *SMTPGateway) {
		g.logger = logger
	}
}

// NewSMTPGateway creates an SMTPGateway. Zero delivery settings take the defaults.
func NewSMTPGateway(cfg SMTPConfig, opts ...SMTPOption) (*SMTPGateway, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("smtp host and from address are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.AppName == "" {
		cfg.AppName = "Vidloom"
	}

	g := &SMTPGateway{
		cfg:    cfg,
		sender: newDeadlineDialer(cfg),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Send renders msg and delivers it, retrying with exponential backoff.
func (g *SMTPGateway) Send(ctx context.Context, msg auth.Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return oops.Code("NOTIFY_INVALID_RECIPIENT").
			With("kind", string(msg.Kind)).
			Errorf("empty recipient")
	}

	subject, body, err := render(g.cfg.AppName, msg)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", g.cfg.From, g.cfg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	backoff := retry.WithMaxRetries(uint64(g.cfg.MaxAttempts-1), retry.NewExponential(g.cfg.RetryBase))

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := g.sendOnce(ctx, m); err != nil {
			g.logger.WarnContext(ctx, "email delivery attempt failed",
				"kind", string(msg.Kind),
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		observability.RecordNotificationFailure(string(msg.Kind))
		return oops.Code("NOTIFY_SEND_FAILED").
			With("kind", string(msg.Kind)).
			With("attempts", attempt).
			Wrap(err)
	}

	g.logger.InfoContext(ctx, "email sent", "kind", string(msg.Kind), "attempts", attempt)
	return nil
}

// sendOnce bounds one delivery attempt by SendTimeout. gomail has no context
// support, so a timed-out attempt keeps running in the background until the
// sender's own connection deadline expires. A custom Sender without one can
// run for as long as the server stalls.
func (g *SMTPGateway) sendOnce(ctx context.Context, m *gomail.Message) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.sender.DialAndSend(m)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return oops.Code("NOTIFY_TIMEOUT").
			With("timeout", g.cfg.SendTimeout.String()).
			Wrap(ctx.Err())
	}
}

var (
	_ auth.Notifier = (*SMTPGateway)(nil)
	_ Sender        = (*gomail.Dialer)(nil)
	_ Sender        = (*deadlineDialer)(nil)
)
