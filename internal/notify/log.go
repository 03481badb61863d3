// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/vidloom/accounts/internal/auth"
)

// LogGateway writes messages to a logger instead of sending them.
// It is meant for local development, where codes are read from the log.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{logger: logger}
}

// Send logs msg. It never fails.
func (g *LogGateway) Send(ctx context.Context, msg auth.Message) error {
	attrs := []any{"kind", string(msg.Kind), "to", msg.To}
	if msg.Code != "" {
		attrs = append(attrs, "code", msg.Code, "expires_in", msg.ExpiresIn.String())
	}
	g.logger.InfoContext(ctx, "email (not sent)", attrs...)
	return nil
}

var _ auth.Notifier = (*LogGateway)(nil)
