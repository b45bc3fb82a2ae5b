package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cbtexam/internal/app"
	"cbtexam/internal/app/observability"
	"cbtexam/internal/db"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cbtexam",
		Short:        "Exam assembly, attempt and grading service",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd())

	// Bare `cbtexam` runs the server.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func addDBFlags(f *pflag.FlagSet) {
	f.String("db-driver", "postgres", "Database driver (postgres, sqlite)")
	f.String("db-dsn", "", "Database DSN or SQLite path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-file", "", "Rotating JSON log file, empty to disable")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	addDBFlags(f)
	f.StringP("http-addr", "a", ":8080", "HTTP listen address")
	f.Int("default-exam-minutes", 90, "Duration given to exams created without one")
	f.Bool("tracing-enabled", false, "Export traces to the Jaeger collector")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema for the configured driver",
		RunE:  runMigrate,
	}
	addDBFlags(cmd.Flags())
	return cmd
}

func setup(cmd *cobra.Command) (app.Config, *zap.Logger, error) {
	v := app.NewViper(cmd.Flags())
	path, err := app.ReadConfigFile(v)
	if err != nil {
		return app.Config{}, nil, fmt.Errorf("read config: %w", err)
	}
	cfg := app.LoadConfig(v)

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		Development: cfg.Development(),
	})
	if err != nil {
		return app.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	if path != "" {
		logger.Info("loaded config file", zap.String("path", path))
	}
	return cfg, logger, nil
}

func openDB(ctx context.Context, cfg app.Config) (*db.DB, error) {
	return db.Open(ctx, cfg.DBDriver, cfg.DBDSN, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	conn, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	logger.Info("schema applied", zap.String("driver", string(conn.Dialect())))
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.TracingEndpoint)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	conn, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}

	limiter := app.NewIPRateLimiter(cfg.RateLimitPerMin, time.Minute)
	go sweepLimiter(ctx, limiter, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, conn, logger, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("cbtexam listening", zap.String("addr", cfg.HTTPAddr), zap.String("driver", string(conn.Dialect())))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepLimiter drops idle rate-limit buckets until ctx ends.
func sweepLimiter(ctx context.Context, l *app.IPRateLimiter, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(10 * time.Minute); n > 0 {
				logger.Debug("rate limiter swept", zap.Int("visitors", n))
			}
		}
	}
}
