package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/config"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/logging"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/migrations"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
)

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// openDB loads configuration and returns a pinged connection.
func openDB(ctx context.Context) (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "dbtool"})

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// withDB wraps a command body with connection setup and teardown.
func withDB(run func(cmd *cobra.Command, db *sql.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		return run(cmd, db, args)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dbtool",
		Short:        "Manage the policy service database schema",
		SilenceUsage: true,
		RunE: withDB(func(_ *cobra.Command, db *sql.DB, _ []string) error {
			log.Info().Msg("applying migrations")
			return migrations.Up(db)
		}),
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withDB(func(_ *cobra.Command, db *sql.DB, _ []string) error {
			return migrations.Up(db)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "fix",
		Short: "Clear a dirty migration state",
		Args:  cobra.NoArgs,
		RunE: withDB(func(_ *cobra.Command, db *sql.DB, _ []string) error {
			if err := migrations.FixDirtyDatabase(db); err != nil {
				return err
			}
			log.Info().Msg("database fixed")
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Record a schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withDB(func(_ *cobra.Command, db *sql.DB, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number %q", args[0])
			}
			if err := migrations.ForceVersion(db, uint(v)); err != nil {
				return err
			}
			log.Info().Uint64("version", v).Msg("database version forced")
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, db *sql.DB, _ []string) error {
			v, dirty, err := migrations.Status(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			return nil
		}),
	})

	var olderThan time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup-jobs",
		Short: "Delete finished jobs older than --older-than",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, db *sql.DB, _ []string) error {
			jobs, err := store.NewJobStore(db)
			if err != nil {
				return err
			}
			n, err := jobs.CleanupOldJobs(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs\n", n)
			return nil
		}),
	}
	cleanup.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of completed or failed jobs to delete")
	root.AddCommand(cleanup)

	return root
}
