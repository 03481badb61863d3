// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/config"
	"github.com/vidloom/accounts/internal/observability"
	"github.com/vidloom/accounts/internal/ratelimit"
	"github.com/vidloom/accounts/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the user store.
	// Default: store.Open
	StoreOpener func(ctx context.Context, cfg store.Config, logger *slog.Logger) (*store.Store, error)

	// NotifierFactory builds the email gateway.
	// Default: newNotifier
	NotifierFactory func(cfg config.Config, logger *slog.Logger) (auth.Notifier, error)

	// LimiterFactory connects the rate limiter. It returns a nil limiter
	// when limiting is disabled, and a release func for its connection.
	// Default: newLimiter
	LimiterFactory func(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (*ratelimit.Limiter, func() error, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// LogOutput receives the service log.
	// Default: os.Stderr
	LogOutput io.Writer

	// OnReady is called once both listeners are bound, with their addresses.
	// The metrics address is empty when the observability server is disabled.
	OnReady func(apiAddr, metricsAddr string)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = store.Open
	}
	if out.NotifierFactory == nil {
		out.NotifierFactory = newNotifier
	}
	if out.LimiterFactory == nil {
		out.LimiterFactory = newLimiter
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	return &out
}
