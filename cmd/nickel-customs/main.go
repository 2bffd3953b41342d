package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/nickel-lang/nickel-customs/internal/adapter/driven/github"
	"github.com/nickel-lang/nickel-customs/internal/adapter/driven/nickel"
	sqliteadapter "github.com/nickel-lang/nickel-customs/internal/adapter/driven/sqlite"
	httphandler "github.com/nickel-lang/nickel-customs/internal/adapter/driving/http"
	"github.com/nickel-lang/nickel-customs/internal/adapter/driving/webhook"
	"github.com/nickel-lang/nickel-customs/internal/application"
	"github.com/nickel-lang/nickel-customs/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"check_name", cfg.CheckName,
		"oracle_bin", cfg.OracleBin,
		"oracle_timeout", cfg.OracleTimeout,
		"retention", cfg.Retention,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	runStore := sqliteadapter.NewRunRepo(db)
	ghClient := githubadapter.NewClient(cfg.GitHubToken)
	oracle := nickel.NewOracle(ghClient, cfg.OracleBin, cfg.OracleArgs, cfg.OracleTimeout)

	// 6. Assemble the application core.
	discovery := application.NewDiscovery(ghClient)
	reporter := application.NewReporter(ghClient, cfg.ReportAttempts, time.Second)
	orch := application.NewOrchestrator(
		discovery,
		oracle,
		reporter,
		runStore,
		ghClient,
		cfg.CheckName,
		cfg.CommentSummary,
		cfg.Retention,
	)
	intake := application.NewIntake(ghClient, orch)

	// 7. Wire driving adapters. Runs started from deliveries are bound to the
	// signal context so they drain on shutdown.
	webhookHandler := webhook.NewHandler(ctx, []byte(cfg.WebhookSecret), intake, slog.Default())
	apiHandler := httphandler.NewHandler(orch, runStore, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, webhookHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 8. Log startup complete.
	slog.Info("nickel-customs started",
		"listen_addr", cfg.ListenAddr,
		"check_name", cfg.CheckName,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Stop accepting deliveries.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// 11. Let in-flight collectors record their interrupted runs.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()

	if err := orch.Drain(drainCtx); err != nil {
		slog.Warn("shutdown with runs still in flight", "error", err)
	}

	// 12. Log shutdown complete.
	slog.Info("shutdown complete")
	return nil
}
