package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/config"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/httpserver"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/logging"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/migrations"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/notify"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/stripe"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "policy-server",
	})

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	logDBTarget("primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database migrations")
	}

	policyStore, err := store.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create store")
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create job store")
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.MaxConcurrent = cfg.WorkerConcurrency
	jobWorker := worker.New(workerCfg, jobStore)
	jobWorker.SetInstrumentation(worker.PrometheusInstrumentation())
	worker.RegisterTokenJobs(jobWorker, policyStore, notify.NewLogNotifier(), time.Now)

	deps := httpserver.Deps{
		Store:  policyStore,
		DB:     db,
		Jobs:   jobStore,
		Worker: jobWorker,
	}
	if cfg.CheckoutEnabled() {
		client := stripe.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
		deps.Billing.Checkout = client
		if cfg.StripeWebhookSecret != "" {
			deps.Billing.Webhook = client
		}
		log.Info().Bool("webhook", cfg.StripeWebhookSecret != "").Msg("stripe checkout enabled")
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; token checkout disabled")
	}

	srv := httpserver.New(cfg, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go jobWorker.Every(shutdownCtx, cfg.GrantSweepInterval, models.JobTokenGrantSweep)

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.ServerAddress).Msg("policy server starting")
	if err := srv.Start(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	err := migrations.Up(db)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "Dirty database version") {
		return err
	}

	log.Warn().Str("db", name).Err(err).Msg("migrations: dirty database detected, attempting to fix")
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		log.Error().Str("db", name).Err(fixErr).Msg("migrations: failed to fix dirty database")
		return err
	}
	return migrations.Up(db)
}

func logDBTarget(name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info().Str("db", name).Err(err).Msg("database configured (dsn parse error)")
		return
	}
	log.Info().Str("db", name).Str("host", u.Hostname()).Str("database", strings.TrimPrefix(u.Path, "/")).Msg("database target")
}
