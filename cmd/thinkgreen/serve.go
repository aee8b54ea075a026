// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/thinkgreen/thinkgreen/internal/auth"
	"github.com/thinkgreen/thinkgreen/internal/auth/postgres"
	"github.com/thinkgreen/thinkgreen/internal/config"
	"github.com/thinkgreen/thinkgreen/internal/logging"
	"github.com/thinkgreen/thinkgreen/internal/notify"
	"github.com/thinkgreen/thinkgreen/internal/observability"
	"github.com/thinkgreen/thinkgreen/internal/store"
	"github.com/thinkgreen/thinkgreen/internal/web"
)

const (
	serviceName       = "thinkgreen"
	readHeaderTimeout = 10 * time.Second
	cleanupTimeout    = 5 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API that handles signup, login, code verification
and session checks. Pending migrations are applied first unless
--auto-migrate=false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	cmd.Flags().String("addr", ":3000", "HTTP listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", "json", "log format (json or text)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("mail-driver", config.MailDriverSMTP, "mail driver (smtp or log)")
	cmd.Flags().Bool("auto-migrate", true, "apply pending migrations on startup")
	cmd.Flags().Duration("sweep-interval", auth.DefaultSweepInterval, "interval between expired code sweeps")

	return cmd
}

// runServeWithDeps starts the API with injectable dependencies. If deps is
// nil, default implementations are used. It returns when ctx is cancelled,
// a signal arrives or a server fails.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.NotifierFactory == nil {
		deps.NotifierFactory = newNotifier
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, checker observability.ReadinessChecker) ObservabilityServer {
			srv := observability.NewServer(addr, checker)
			srv.SetLogger(slog.Default().With("component", "observability"))
			return srv
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}

	cfg, err := deps.ConfigLoader(cmd.Flags(), configFile)
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, logging.Options{Format: cfg.Log.Format, Level: level}, deps.LogWriter)

	logger.Info("starting thinkgreen",
		"version", version,
		"addr", cfg.HTTP.Addr,
		"mail_driver", cfg.Mail.Driver,
	)

	if cfg.Database.AutoMigrate {
		if err := runAutoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	db, err := deps.DatabaseFactory(ctx, cfg.Database, logger)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()
	logger.Info("connected to database")

	hasher := auth.NewArgon2idHasher()
	if err := auth.SelfCheck(hasher); err != nil {
		return oops.With("operation", "password hasher self-check").Wrap(err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func(ctx context.Context) error {
			return store.Ping(ctx, db)
		})
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	notifier, err := deps.NotifierFactory(cfg, logger)
	if err != nil {
		return oops.With("operation", "create notifier").Wrap(err)
	}

	svc, sweeper, err := buildService(cfg, db, hasher, notifier, metrics, logger)
	if err != nil {
		return err
	}

	trusted, err := web.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}
	handler, err := web.NewHandler(svc,
		web.WithLogger(logger),
		web.WithRequestRecorder(metrics),
		web.WithCookieSecure(cfg.Session.CookieSecure),
		web.WithRateLimit(cfg.HTTP.RateLimit),
		web.WithTrustedProxies(trusted),
		web.WithHealth(&web.HealthChecker{
			DB:                db,
			MailConfigured:    cfg.MailConfigured(),
			SessionConfigured: cfg.SessionConfigured(),
		}),
	)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrCh <- serveErr
		}
	}()
	logger.Info("http server listening", "addr", listener.Addr().String())

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			shutdownHTTP(httpServer, cleanupTimeout, logger)
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	if err := sweeper.Start(ctx); err != nil {
		shutdownHTTP(httpServer, cleanupTimeout, logger)
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Println("ThinkGreen started")

	var runErr error
	select {
	case <-sigCtx.Done():
		if failure := serverFailure(ctx); failure != nil {
			runErr = failure
			break
		}
		logger.Info("shutting down", "reason", context.Cause(sigCtx))
	case err, ok := <-httpErrCh:
		if ok && err != nil {
			runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownHTTP(httpServer, cfg.HTTP.ShutdownTimeout, logger)
	sweeper.Stop()
	svc.Wait()

	if obsServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer stopCancel()
		if err := obsServer.Stop(stopCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// buildService wires the repositories, ledger, signer and sweeper.
func buildService(
	cfg *config.Config,
	db Database,
	hasher auth.PasswordHasher,
	notifier auth.Notifier,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*auth.Service, *auth.Sweeper, error) {
	ledger, err := auth.NewLedger(postgres.NewOTPRepository(db))
	if err != nil {
		return nil, nil, err
	}
	signer, err := auth.NewSessionSigner([]byte(cfg.Session.Key), auth.WithSessionTTL(cfg.Session.TTL))
	if err != nil {
		return nil, nil, err
	}
	pending := postgres.NewPendingSignupRepository(db)

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:    postgres.NewUserRepository(db),
		Pending:  pending,
		Ledger:   ledger,
		Hasher:   hasher,
		Signer:   signer,
		Notifier: notifier,
	},
		auth.WithLogger(logger),
		auth.WithRecorder(metrics),
	)
	if err != nil {
		return nil, nil, err
	}

	sweeper, err := auth.NewSweeper(ledger, pending,
		auth.WithSweepInterval(cfg.OTP.SweepInterval),
		auth.WithSweeperLogger(logger),
		auth.WithSweeperRecorder(metrics),
	)
	if err != nil {
		return nil, nil, err
	}
	return svc, sweeper, nil
}

// newNotifier returns the notifier selected by mail.driver.
func newNotifier(cfg *config.Config, logger *slog.Logger) (auth.Notifier, error) {
	if cfg.Mail.Driver == config.MailDriverLog {
		logger.Warn("mail driver is log; verification codes are written to the log")
		return notify.NewLogNotifier(logger), nil
	}
	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		BaseURL:  cfg.HTTP.BaseURL,
	}, notify.WithMailerLogger(logger))
	if err != nil {
		return nil, err
	}
	return mailer, nil
}

// runAutoMigrate applies pending migrations before the pool is opened.
func runAutoMigrate(factory func(string) (AutoMigrator, error), databaseURL string, logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	logger.Info("applying database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error shutting down http server", "error", err)
	}
}

// monitorServerErrors cancels ctx with the server's error as the cause. It
// exits when an error arrives, the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel(oops.Code("SERVER_FAILED").With("server", serverName).Wrap(err))
		}
	case <-ctx.Done():
	}
}

// serverFailure returns the error a monitored server cancelled ctx with, or
// nil when ctx is live or was cancelled by its parent.
func serverFailure(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil
	}
	return cause
}
