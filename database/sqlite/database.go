// Package sqlite implements the repo interfaces using SQLite
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/axisimaging/dicomweb"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database provides SQLite-backed persistence for the instance index and
// the worklist.
type Database struct {
	db *sql.DB
}

// Connect opens the SQLite database. Migrations run separately.
func Connect(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// modernc sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Database{db: db}, nil
}

// Migrate creates the required tables and indexes.
func (d *Database) Migrate(ctx context.Context) error {
	return Migrate(ctx, d.db)
}

// ValidateSchema verifies the migrated tables match the expected columns.
func (d *Database) ValidateSchema(ctx context.Context) error {
	return ValidateSchema(ctx, d.db)
}

// DropTables removes all managed tables.
func (d *Database) DropTables(ctx context.Context) error {
	return DropTables(ctx, d.db)
}

// Instances returns the instance index repo.
func (d *Database) Instances() dicomweb.InstanceRepo {
	return &instanceRepo{db: d.db}
}

// Worklist returns the workitem repo.
func (d *Database) Worklist() dicomweb.WorklistRepo {
	return &worklistRepo{db: d.db}
}

// Ping verifies the database connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}
