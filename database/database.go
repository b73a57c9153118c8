package database

import (
	"context"
	"fmt"

	"github.com/axisimaging/dicomweb"
	"github.com/axisimaging/dicomweb/database/postgres"
	"github.com/axisimaging/dicomweb/database/sqlite"
)

// Config holds the configuration for connecting to a persistence backend.
type Config struct {
	// Type specifies the database type: "sqlite" or "postgres"
	Type string
	// DSN is the data source name (connection string)
	DSN string
}

// Repos bundles the two repos a backend provides.
type Repos struct {
	Instances dicomweb.InstanceRepo
	Worklist  dicomweb.WorklistRepo
}

// Connect establishes a connection to the configured backend, runs
// migrations, and returns the repos. The returned cleanup function
// should be called to close the connection.
func Connect(ctx context.Context, cfg Config) (Repos, func(), error) {
	switch cfg.Type {
	case "sqlite":
		return connectSQLite(ctx, cfg.DSN)
	case "postgres":
		return connectPostgres(ctx, cfg.DSN)
	default:
		return Repos{}, nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func connectSQLite(ctx context.Context, dsn string) (Repos, func(), error) {
	db, err := sqlite.Connect(ctx, dsn)
	if err != nil {
		return Repos{}, nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return Repos{}, nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	if err := db.ValidateSchema(ctx); err != nil {
		_ = db.Close()
		return Repos{}, nil, fmt.Errorf("validate sqlite schema: %w", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return Repos{Instances: db.Instances(), Worklist: db.Worklist()}, cleanup, nil
}

func connectPostgres(ctx context.Context, dsn string) (Repos, func(), error) {
	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return Repos{}, nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return Repos{}, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	if err := db.ValidateSchema(ctx); err != nil {
		db.Close()
		return Repos{}, nil, fmt.Errorf("validate postgres schema: %w", err)
	}

	return Repos{Instances: db.Instances(), Worklist: db.Worklist()}, db.Close, nil
}
