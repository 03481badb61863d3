// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/internal/config"
	"github.com/vidloom/accounts/internal/httpapi"
	"github.com/vidloom/accounts/internal/logging"
	"github.com/vidloom/accounts/internal/notify"
	"github.com/vidloom/accounts/internal/observability"
	"github.com/vidloom/accounts/internal/ratelimit"
	"github.com/vidloom/accounts/internal/token"
)

const (
	serviceName       = "accountd"
	readinessTimeout  = 2 * time.Second
	cleanupTimeout    = 5 * time.Second
	defaultListenAddr = ":8080"
)

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store.driver",
	"auto-migrate": "store.auto_migrate",
	"mail":         "mail.driver",
	"redis-addr":   "ratelimit.redis_addr",
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API server",
		Long: `Start the account API server. Configuration is read from the
--config file, then these flags, then ACCOUNTD_* environment variables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, serveFlagKeys)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("addr", defaultListenAddr, "API listen address")
	cmd.Flags().String("metrics-addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("store", defaults.Store.Driver, "user store driver (mongo, postgres, memory)")
	cmd.Flags().Bool("auto-migrate", false, "apply pending postgres migrations on start")
	cmd.Flags().String("mail", defaults.Mail.Driver, "mail driver (smtp or log)")
	cmd.Flags().String("redis-addr", "", "redis address for rate limiting (empty = disabled)")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies and
// blocks until shutdown is requested or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, deps.LogOutput)
	slog.SetDefault(logger)

	logger.Info("starting accountd",
		"addr", cfg.HTTP.Addr,
		"store_driver", cfg.Store.Driver,
		"mail_driver", cfg.Mail.Driver,
	)

	userStore, err := deps.StoreOpener(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return oops.With("operation", "open user store").Wrap(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if closeErr := userStore.Close(closeCtx); closeErr != nil {
			logger.Warn("failed to close user store", "error", closeErr)
		}
	}()

	notifier, err := deps.NotifierFactory(cfg, logger)
	if err != nil {
		return oops.With("operation", "create notifier").Wrap(err)
	}

	tokens, err := token.NewService(cfg.TokenOptions())
	if err != nil {
		return err
	}

	accounts, err := auth.NewService(userStore.Users, auth.NewArgon2idHasher(), tokens, notifier,
		auth.WithLogger(logger),
		auth.WithOutcomeRecorder(observability.RecordAuthOperation),
	)
	if err != nil {
		return err
	}

	limiter, releaseLimiter, err := deps.LimiterFactory(ctx, cfg.RateLimit, logger)
	if err != nil {
		return oops.With("operation", "create rate limiter").Wrap(err)
	}
	defer func() {
		if releaseErr := releaseLimiter(); releaseErr != nil {
			logger.Warn("failed to close rate limiter connection", "error", releaseErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
		obsAddr   string
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func() bool {
			return userStore.Ready(ctx, readinessTimeout)
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		obsAddr = obsServer.Addr()
		logger.Info("observability server started", "addr", obsAddr)
	}

	api, err := httpapi.New(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, accounts, tokens,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(metrics),
		httpapi.WithRateLimiter(limiter),
	)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	apiErrChan, err := api.Start()
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	if deps.OnReady != nil {
		deps.OnReady(api.Addr(), obsAddr)
	}

	cmd.Println("accountd started")
	logger.Info("accountd ready", "addr", api.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := api.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func stopObservability(obsServer ObservabilityServer, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// newNotifier builds the configured email gateway.
func newNotifier(cfg config.Config, logger *slog.Logger) (auth.Notifier, error) {
	if cfg.Mail.Driver != config.MailDriverSMTP {
		logger.Warn("mail driver is log; emails are written to the log and not delivered")
		return notify.NewLogGateway(logger), nil
	}
	gateway, err := notify.NewSMTPGateway(cfg.SMTPOptions(), notify.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return gateway, nil
}

// newLimiter connects to redis when limiting is enabled.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (*ratelimit.Limiter, func() error, error) {
	if cfg.RedisAddr == "" {
		logger.Info("rate limiting disabled")
		return nil, func() error { return nil }, nil
	}

	client, err := ratelimit.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	limiter, err := ratelimit.New(client, ratelimit.Config{Rate: cfg.Rate, Burst: cfg.Burst}, logger)
	if err != nil {
		_ = client.Close() //nolint:errcheck // config error takes precedence
		return nil, nil, err
	}
	logger.Info("rate limiting enabled", "redis_addr", cfg.RedisAddr, "rate", cfg.Rate, "burst", cfg.Burst)
	return limiter, client.Close, nil
}

// monitorServerErrors cancels ctx when a server reports an error. It returns
// once errCh yields or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
