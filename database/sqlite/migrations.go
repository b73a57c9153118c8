package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	instancesTable = "dicom_instances"
	workitemsTable = "dicom_workitems"
)

type TableMigration struct {
	TableName string
	Up        func(ctx context.Context, db *sql.DB) error
	Down      func(ctx context.Context, db *sql.DB) error
}

func getTableMigrations() []TableMigration {
	return []TableMigration{
		{
			TableName: instancesTable,
			Up:        createInstancesTable,
			Down:      dropTable(instancesTable),
		},
		{
			TableName: workitemsTable,
			Up:        createWorkitemsTable,
			Down:      dropTable(workitemsTable),
		},
	}
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, migration := range getTableMigrations() {
		if err := migration.Up(ctx, db); err != nil {
			return fmt.Errorf("migrate up %s: %w", migration.TableName, err)
		}
	}
	return nil
}

func DropTables(ctx context.Context, db *sql.DB) error {
	migrations := getTableMigrations()

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if err := migration.Down(ctx, db); err != nil {
			return fmt.Errorf("migrate down %s: %w", migration.TableName, err)
		}
	}
	return nil
}

func createInstancesTable(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS dicom_instances (
			id TEXT NOT NULL PRIMARY KEY,
			study_uid TEXT NOT NULL,
			series_uid TEXT NOT NULL,
			sop_instance_uid TEXT NOT NULL,
			sop_class_uid TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL,
			etag TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (study_uid, series_uid, sop_instance_uid)
		)
	`

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	indexSQL := `
		CREATE INDEX IF NOT EXISTS idx_dicom_instances_patient
		ON dicom_instances (patient_id)
	`
	if _, err := db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("create index patient: %w", err)
	}

	indexSQL = `
		CREATE INDEX IF NOT EXISTS idx_dicom_instances_scope
		ON dicom_instances (study_uid, series_uid)
	`
	if _, err := db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("create index scope: %w", err)
	}

	return nil
}

func createWorkitemsTable(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS dicom_workitems (
			uid TEXT NOT NULL PRIMARY KEY,
			state TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT '',
			transaction_uid TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL DEFAULT '',
			patient_name TEXT NOT NULL DEFAULT '',
			study_uid TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			labels TEXT NOT NULL DEFAULT '[]',
			progress_steps INTEGER NOT NULL DEFAULT 0,
			progress_completed INTEGER NOT NULL DEFAULT 0,
			cancellation_reason TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	indexSQL := `
		CREATE INDEX IF NOT EXISTS idx_dicom_workitems_state
		ON dicom_workitems (state, created_at)
	`
	if _, err := db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("create index state: %w", err)
	}

	return nil
}

func dropTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		dropSQL := fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, tableName)
		_, err := db.ExecContext(ctx, dropSQL)
		return err
	}
}
