package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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
	"id":               {"id", "text", false},
	"study_uid":        {"study_uid", "text", false},
	"series_uid":       {"series_uid", "text", false},
	"sop_instance_uid": {"sop_instance_uid", "text", false},
	"sop_class_uid":    {"sop_class_uid", "text", false},
	"patient_id":       {"patient_id", "text", false},
	"content_type":     {"content_type", "text", false},
	"etag":             {"etag", "text", false},
	"size_bytes":       {"size_bytes", "integer", false},
	"created_at":       {"created_at", "text", false},
	"updated_at":       {"updated_at", "text", false},
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
	"labels":              {"labels", "text", false},
	"progress_steps":      {"progress_steps", "integer", false},
	"progress_completed":  {"progress_completed", "integer", false},
	"cancellation_reason": {"cancellation_reason", "text", false},
	"cancel_requested":    {"cancel_requested", "integer", false},
	"created_at":          {"created_at", "text", false},
	"updated_at":          {"updated_at", "text", false},
}

func getTableValidations() []tableValidation {
	return []tableValidation{
		{tableName: instancesTable, expectedSchema: instancesTableSchema},
		{tableName: workitemsTable, expectedSchema: workitemsTableSchema},
	}
}

// ValidateSchema checks every migrated table against its expected column
// set and reports missing or mismatched columns.
func ValidateSchema(ctx context.Context, db *sql.DB) error {
	for _, validation := range getTableValidations() {
		if err := validateTableSchema(ctx, db, validation.tableName, validation.expectedSchema); err != nil {
			return fmt.Errorf("validate schema %s: %w", validation.tableName, err)
		}
	}
	return nil
}

func validateTableSchema(ctx context.Context, db *sql.DB, tableName string, expectedSchema map[string]columnInfo) error {
	exists, err := tableExists(ctx, db, tableName)
	if err != nil {
		return fmt.Errorf("validate table schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("validate table schema: table %s does not exist", tableName)
	}

	query := fmt.Sprintf(`PRAGMA table_info("%s")`, tableName)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("validate table schema: query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	actualColumns := make(map[string]columnInfo)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var dfltValue sql.NullString
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("validate table schema: scan column: %w", err)
		}
		actualColumns[name] = columnInfo{
			name:       name,
			dataType:   strings.ToLower(dataType),
			isNullable: notNull == 0,
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

func tableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	query := `SELECT name FROM sqlite_master WHERE type='table' AND name=?`
	err := db.QueryRowContext(ctx, query, tableName).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return true, nil
}
