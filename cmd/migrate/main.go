package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/logger"
	"github.com/rs/zerolog"
)

// migrator applies migrations to one database.
type migrator interface {
	// EnsureTable creates the schema_migrations table if it doesn't exist.
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Apply(ctx context.Context, m Migration) error
	Close() error
}

var (
	driver        = flag.String("driver", "bigquery", "Target database: bigquery or postgres")
	projectID     = flag.String("project", os.Getenv("GCP_PROJECT_ID"), "GCP project ID (bigquery)")
	datasetID     = flag.String("dataset", "finance", "BigQuery dataset ID")
	dsn           = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection string (or set DATABASE_URL)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (default: migrations/<driver>)")
	dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
)

func main() {
	flag.Parse()
	log := logger.New()

	if err := run(log); err != nil {
		log.Error().Err(err).Str("driver", *driver).Msg("Migration failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	m, placeholders, err := openMigrator(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close connection")
		}
	}()

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *driver
	}
	return migrate(ctx, m, dir, placeholders, *dryRun, log)
}

func openMigrator(ctx context.Context) (migrator, map[string]string, error) {
	switch *driver {
	case "bigquery":
		if *projectID == "" {
			return nil, nil, fmt.Errorf("-project flag is required. Please specify your GCP project ID")
		}
		m, err := newBigQueryMigrator(ctx, *projectID, *datasetID, *appliedBy)
		if err != nil {
			return nil, nil, err
		}
		return m, map[string]string{"PROJECT_ID": *projectID, "DATASET_ID": *datasetID}, nil
	case "postgres":
		if *dsn == "" {
			return nil, nil, fmt.Errorf("-dsn flag or DATABASE_URL is required")
		}
		m, err := newPostgresMigrator(ctx, *dsn, *appliedBy)
		if err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", *driver)
	}
}

// migrate applies every pending migration in dir in version order.
func migrate(ctx context.Context, m migrator, dir string, placeholders map[string]string, dryRun bool, log zerolog.Logger) error {
	if err := m.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(dir, placeholders, log)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	log.Info().Int("files", len(migrations)).Str("dir", dir).Msg("Found migration files")

	applied, err := m.Applied(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	log.Info().Int("applied", len(applied)).Msg("Found already applied migrations")

	pending, changed := plan(migrations, applied)
	for _, c := range changed {
		log.Warn().Str("migration", c.Filename).Msg("Applied migration file has changed since it was applied")
	}

	for _, mig := range pending {
		if dryRun {
			log.Info().Str("migration", mig.Filename).Msg("[PENDING]")
			continue
		}
		log.Info().Str("migration", mig.Filename).Msg("[RUN]")
		if err := m.Apply(ctx, mig); err != nil {
			return fmt.Errorf("apply %s: %w", mig.Filename, err)
		}
		log.Info().Str("migration", mig.Filename).Msg("[OK]")
	}

	switch {
	case len(pending) == 0:
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	case dryRun:
		log.Info().Int("pending", len(pending)).Msg("Dry run, nothing applied")
	default:
		log.Info().Int("applied", len(pending)).Msg("Successfully applied migrations")
	}
	return nil
}
