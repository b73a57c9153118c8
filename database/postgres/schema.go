package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type columnInfo struct {
	name       string
	dataType   string
	isNullable bool
}

type tableValidation struct {
	tableName      string
	expectedSchema map[string]columnInfo
}

var instancesTableSchema = map[string]columnInfo{
	"id":               {"id", "uuid", false},
	"study_uid":        {"study_uid", "text", false},
	"series_uid":       {"series_uid", "text", false},
	"sop_instance_uid": {"sop_instance_uid", "text", false},
	"sop_class_uid":    {"sop_class_uid", "text", false},
	"patient_id":       {"patient_id", "text", false},
	"content_type":     {"content_type", "text", false},
	"etag":             {"etag", "text", false},
	"size_bytes":       {"size_bytes", "bigint", false},
	"created_at":       {"created_at", "timestamp with time zone", false},
	"updated_at":       {"updated_at", "timestamp with time zone", false},
}

var workitemsTableSchema = map[string]columnInfo{
	"uid":                 {"uid", "text", false},
	"state":               {"state", "text", false},
	"priority":            {"priority", "text", false},
	"transaction_uid":     {"transaction_uid", "text", false},
	"patient_id":          {"patient_id", "text", false},
	"patient_name":        {"patient_name", "text", false},
	"study_uid":           {"study_uid", "text", false},
	"label":               {"label", "text", false},
	"labels":              {"labels", "array", false},
	"progress_steps":      {"progress_steps", "integer", false},
	"progress_completed":  {"progress_completed", "integer", false},
	"cancellation_reason": {"cancellation_reason", "text", false},
	"cancel_requested":    {"cancel_requested", "boolean", false},
	"created_at":          {"created_at", "timestamp with time zone", false},
	"updated_at":          {"updated_at", "timestamp with time zone", false},
}

func getTableValidations() []tableValidation {
	return []tableValidation{
		{tableName: "dicom_instances", expectedSchema: instancesTableSchema},
		{tableName: "dicom_workitems", expectedSchema: workitemsTableSchema},
	}
}

// ValidateSchema checks every migrated table against its expected column
// set and reports missing or mismatched columns.
func ValidateSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, validation := range getTableValidations() {
		if err := validateTableSchema(ctx, pool, validation.tableName, validation.expectedSchema); err != nil {
			return fmt.Errorf("validate schema %s: %w", validation.tableName, err)
		}
	}
	return nil
}

func validateTableSchema(ctx context.Context, pool *pgxpool.Pool, tableName string, expectedSchema map[string]columnInfo) error {
	exists, err := tableExists(ctx, pool, tableName)
	if err != nil {
		return fmt.Errorf("validate table schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("validate table schema: table %s does not exist", tableName)
	}

	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := pool.Query(ctx, query, tableName)
	if err != nil {
		return fmt.Errorf("validate table schema: query columns: %w", err)
	}
	defer rows.Close()

	actualColumns := make(map[string]columnInfo)
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return fmt.Errorf("validate table schema: scan column: %w", err)
		}
		actualColumns[name] = columnInfo{
			name:       name,
			dataType:   strings.ToLower(dataType),
			isNullable: nullable == "YES",
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("validate table schema: rows error: %w", err)
	}

	return diffColumns(tableName, expectedSchema, actualColumns)
}

func diffColumns(tableName string, expected, actual map[string]columnInfo) error {
	var missingColumns []string
	var mismatchedColumns []string

	for colName, want := range expected {
		got, ok := actual[colName]
		if !ok {
			missingColumns = append(missingColumns, colName)
			continue
		}
		if got.dataType != want.dataType {
			mismatchedColumns = append(mismatchedColumns,
				fmt.Sprintf("%s: expected %s, got %s", colName, want.dataType, got.dataType))
		}
		if got.isNullable != want.isNullable {
			mismatchedColumns = append(mismatchedColumns,
				fmt.Sprintf("%s: expected nullable=%v, got nullable=%v", colName, want.isNullable, got.isNullable))
		}
	}

	if len(missingColumns) == 0 && len(mismatchedColumns) == 0 {
		return nil
	}

	var errMsg strings.Builder
	fmt.Fprintf(&errMsg, "table %s schema validation failed:\n", tableName)
	if len(missingColumns) > 0 {
		fmt.Fprintf(&errMsg, "  missing columns: %s\n", strings.Join(missingColumns, ", "))
	}
	if len(mismatchedColumns) > 0 {
		fmt.Fprintf(&errMsg, "  mismatched columns:\n")
		for _, msg := range mismatchedColumns {
			fmt.Fprintf(&errMsg, "    - %s\n", msg)
		}
	}
	return errors.New(errMsg.String())
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`
	if err := pool.QueryRow(ctx, query, tableName).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return exists, nil
}
