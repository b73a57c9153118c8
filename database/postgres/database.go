// Package postgres implements the repo interfaces using PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axisimaging/dicomweb"
)

// Database provides PostgreSQL-backed persistence for the instance index
// and the worklist.
type Database struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool. Migrations run separately.
func Connect(ctx context.Context, dsn string) (*Database, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Database{pool: pool}, nil
}

// Migrate creates the required tables and indexes.
func (d *Database) Migrate(ctx context.Context) error {
	return Migrate(ctx, d.pool)
}

// ValidateSchema verifies the migrated tables match the expected columns.
func (d *Database) ValidateSchema(ctx context.Context) error {
	return ValidateSchema(ctx, d.pool)
}

// DropTables removes all managed tables.
func (d *Database) DropTables(ctx context.Context) error {
	return DropTables(ctx, d.pool)
}

// Instances returns the instance index repo.
func (d *Database) Instances() dicomweb.InstanceRepo {
	return &instanceRepo{pool: d.pool}
}

// Worklist returns the workitem repo.
func (d *Database) Worklist() dicomweb.WorklistRepo {
	return &worklistRepo{pool: d.pool}
}

// Ping verifies database connectivity.
func (d *Database) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Close closes the connection pool.
func (d *Database) Close() {
	d.pool.Close()
}
