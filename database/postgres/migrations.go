package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := createInstancesTable(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := createWorkitemsTable(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func DropTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		DROP TABLE IF EXISTS dicom_workitems CASCADE;
		DROP TABLE IF EXISTS dicom_instances CASCADE;
	`)
	if err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return nil
}

func createInstancesTable(ctx context.Context, pool *pgxpool.Pool) error {
	sql := `
		CREATE TABLE IF NOT EXISTS dicom_instances (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			study_uid TEXT NOT NULL,
			series_uid TEXT NOT NULL,
			sop_instance_uid TEXT NOT NULL,
			sop_class_uid TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL,
			etag TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (study_uid, series_uid, sop_instance_uid)
		);

		CREATE INDEX IF NOT EXISTS idx_dicom_instances_patient
		ON dicom_instances (patient_id);

		CREATE INDEX IF NOT EXISTS idx_dicom_instances_scope
		ON dicom_instances (study_uid, series_uid);
	`

	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create instances table: %w", err)
	}
	return nil
}

func createWorkitemsTable(ctx context.Context, pool *pgxpool.Pool) error {
	sql := `
		CREATE TABLE IF NOT EXISTS dicom_workitems (
			uid TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT '',
			transaction_uid TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL DEFAULT '',
			patient_name TEXT NOT NULL DEFAULT '',
			study_uid TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			labels TEXT[] NOT NULL DEFAULT '{}',
			progress_steps INTEGER NOT NULL DEFAULT 0,
			progress_completed INTEGER NOT NULL DEFAULT 0,
			cancellation_reason TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_dicom_workitems_state
		ON dicom_workitems (state, created_at);
	`

	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create workitems table: %w", err)
	}
	return nil
}
