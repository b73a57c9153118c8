package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/axisimaging/dicomweb"
)

const instanceColumns = `id, study_uid, series_uid, sop_instance_uid, sop_class_uid,
	patient_id, content_type, etag, size_bytes, created_at, updated_at`

type instanceRepo struct {
	db *sql.DB
}

func scanInstance(row interface{ Scan(...any) error }) (dicomweb.InstanceMeta, error) {
	var m dicomweb.InstanceMeta
	var idStr, createdAt, updatedAt string

	err := row.Scan(
		&idStr, &m.StudyUID, &m.SeriesUID, &m.SOPInstanceUID, &m.SOPClassUID,
		&m.PatientID, &m.ContentType, &m.Etag, &m.SizeBytes, &createdAt, &updatedAt,
	)
	if err != nil {
		return dicomweb.InstanceMeta{}, err
	}

	m.ID, err = uuid.Parse(idStr)
	if err != nil {
		return dicomweb.InstanceMeta{}, fmt.Errorf("parse uuid: %w", err)
	}

	m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return dicomweb.InstanceMeta{}, fmt.Errorf("parse created_at: %w", err)
	}

	m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return dicomweb.InstanceMeta{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return m, nil
}

func (r *instanceRepo) Get(ctx context.Context, key dicomweb.InstanceKey) (dicomweb.InstanceMeta, error) {
	query := `SELECT ` + instanceColumns + `
		FROM dicom_instances
		WHERE study_uid = ? AND series_uid = ? AND sop_instance_uid = ?`

	m, err := scanInstance(r.db.QueryRowContext(ctx, query, key.StudyUID, key.SeriesUID, key.SOPInstanceUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dicomweb.InstanceMeta{}, dicomweb.ErrNotFound
		}
		return dicomweb.InstanceMeta{}, fmt.Errorf("get: %w", err)
	}
	return m, nil
}

func (r *instanceRepo) Upsert(ctx context.Context, entry dicomweb.InstanceEntry) (dicomweb.InstanceMeta, bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	newID := uuid.New()

	// Single statement so concurrent first-stores of the same triple
	// race on the unique index instead of failing the loser's INSERT.
	// A conflict keeps the existing row id and created_at.
	query := `INSERT INTO dicom_instances
		(id, study_uid, series_uid, sop_instance_uid, sop_class_uid,
		 patient_id, content_type, etag, size_bytes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (study_uid, series_uid, sop_instance_uid) DO UPDATE SET
			sop_class_uid = excluded.sop_class_uid,
			patient_id = excluded.patient_id,
			content_type = excluded.content_type,
			etag = excluded.etag,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at
		RETURNING id, created_at`

	var idStr, createdAt string
	err := r.db.QueryRowContext(ctx, query,
		newID.String(), entry.StudyUID, entry.SeriesUID, entry.SOPInstanceUID, entry.SOPClassUID,
		entry.PatientID, entry.ContentType, entry.Etag, entry.SizeBytes, now, now,
	).Scan(&idStr, &createdAt)
	if err != nil {
		return dicomweb.InstanceMeta{}, false, fmt.Errorf("upsert: %w", err)
	}

	var m dicomweb.InstanceMeta
	m.ID, err = uuid.Parse(idStr)
	if err != nil {
		return dicomweb.InstanceMeta{}, false, fmt.Errorf("upsert: parse uuid: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	m.InstanceKey = entry.InstanceKey
	m.SOPClassUID = entry.SOPClassUID
	m.PatientID = entry.PatientID
	m.ContentType = entry.ContentType
	m.Etag = entry.Etag
	m.SizeBytes = entry.SizeBytes
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, now)

	inserted := idStr == newID.String()
	return m, inserted, nil
}

func instanceFilter(q dicomweb.SearchQuery) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if q.StudyUID != "" {
		conditions = append(conditions, "study_uid = ?")
		args = append(args, q.StudyUID)
	}
	if q.SeriesUID != "" {
		conditions = append(conditions, "series_uid = ?")
		args = append(args, q.SeriesUID)
	}
	if q.PatientID != "" {
		conditions = append(conditions, "patient_id = ?")
		args = append(args, q.PatientID)
	}

	return strings.Join(conditions, " AND "), args
}

func (r *instanceRepo) Search(ctx context.Context, q dicomweb.SearchQuery) (dicomweb.SearchResult, error) {
	where, args := instanceFilter(q)

	// Study and series level return one representative row per group.
	// SQLite permits bare columns under GROUP BY and picks one row.
	var groupBy, countExpr string
	switch q.Level {
	case dicomweb.LevelStudy:
		groupBy = "GROUP BY study_uid"
		countExpr = "COUNT(DISTINCT study_uid)"
	case dicomweb.LevelSeries:
		groupBy = "GROUP BY study_uid, series_uid"
		countExpr = "COUNT(DISTINCT study_uid || '/' || series_uid)"
	default:
		countExpr = "COUNT(*)"
	}

	countQuery := fmt.Sprintf(`SELECT %s FROM dicom_instances WHERE %s`, countExpr, where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return dicomweb.SearchResult{}, fmt.Errorf("search: count: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM dicom_instances WHERE %s %s
		ORDER BY created_at, sop_instance_uid
		LIMIT ? OFFSET ?`, instanceColumns, where, groupBy)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return dicomweb.SearchResult{}, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]dicomweb.InstanceMeta, 0, q.Limit)
	for rows.Next() {
		m, scanErr := scanInstance(rows)
		if scanErr != nil {
			return dicomweb.SearchResult{}, fmt.Errorf("search: scan: %w", scanErr)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return dicomweb.SearchResult{}, fmt.Errorf("search: rows: %w", err)
	}

	return dicomweb.SearchResult{Items: items, Total: total}, nil
}

func (r *instanceRepo) List(ctx context.Context, studyUID, seriesUID string) ([]dicomweb.InstanceMeta, error) {
	query := `SELECT ` + instanceColumns + `
		FROM dicom_instances
		WHERE study_uid = ?`
	args := []any{studyUID}

	if seriesUID != "" {
		query += ` AND series_uid = ?`
		args = append(args, seriesUID)
	}
	query += ` ORDER BY series_uid, sop_instance_uid`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []dicomweb.InstanceMeta
	for rows.Next() {
		m, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list: scan: %w", scanErr)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: rows: %w", err)
	}

	return items, nil
}

func (r *instanceRepo) Delete(ctx context.Context, key dicomweb.InstanceKey) error {
	query := `DELETE FROM dicom_instances WHERE study_uid = ?`
	args := []any{key.StudyUID}

	if key.SeriesUID != "" {
		query += ` AND series_uid = ?`
		args = append(args, key.SeriesUID)
	}
	if key.SOPInstanceUID != "" {
		query += ` AND sop_instance_uid = ?`
		args = append(args, key.SOPInstanceUID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("delete: %w", dicomweb.ErrNotFound)
	}

	return nil
}

const workitemColumns = `uid, state, priority, transaction_uid, patient_id, patient_name,
	study_uid, label, labels, progress_steps, progress_completed,
	cancellation_reason, cancel_requested, created_at, updated_at`

type worklistRepo struct {
	db *sql.DB
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanWorkitem(row interface{ Scan(...any) error }) (dicomweb.Workitem, error) {
	var w dicomweb.Workitem
	var state, labels, createdAt, updatedAt string
	var cancelRequested int

	err := row.Scan(
		&w.UID, &state, &w.Priority, &w.TransactionUID, &w.PatientID, &w.PatientName,
		&w.StudyUID, &w.Label, &labels, &w.ProgressSteps, &w.ProgressCompleted,
		&w.CancellationReason, &cancelRequested, &createdAt, &updatedAt,
	)
	if err != nil {
		return dicomweb.Workitem{}, err
	}

	w.State = dicomweb.WorkitemState(state)
	w.CancelRequested = cancelRequested != 0

	if err := json.Unmarshal([]byte(labels), &w.Labels); err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("parse labels: %w", err)
	}
	if len(w.Labels) == 0 {
		w.Labels = nil
	}

	w.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("parse created_at: %w", err)
	}
	w.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return w, nil
}

func getWorkitem(ctx context.Context, q querier, uid string) (dicomweb.Workitem, error) {
	query := `SELECT ` + workitemColumns + ` FROM dicom_workitems WHERE uid = ?`

	w, err := scanWorkitem(q.QueryRowContext(ctx, query, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dicomweb.Workitem{}, dicomweb.ErrNotFound
		}
		return dicomweb.Workitem{}, err
	}
	return w, nil
}

func marshalLabels(labels []string) string {
	if labels == nil {
		labels = []string{}
	}
	encoded, _ := json.Marshal(labels)
	return string(encoded)
}

func (r *worklistRepo) Get(ctx context.Context, uid string) (dicomweb.Workitem, error) {
	w, err := getWorkitem(ctx, r.db, uid)
	if err != nil {
		if errors.Is(err, dicomweb.ErrNotFound) {
			return dicomweb.Workitem{}, dicomweb.ErrNotFound
		}
		return dicomweb.Workitem{}, fmt.Errorf("get: %w", err)
	}
	return w, nil
}

func (r *worklistRepo) Create(ctx context.Context, w dicomweb.Workitem) (dicomweb.Workitem, error) {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	query := `INSERT INTO dicom_workitems
		(uid, state, priority, transaction_uid, patient_id, patient_name,
		 study_uid, label, labels, progress_steps, progress_completed,
		 cancellation_reason, cancel_requested, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		w.UID, string(w.State), w.Priority, w.TransactionUID, w.PatientID, w.PatientName,
		w.StudyUID, w.Label, marshalLabels(w.Labels), w.ProgressSteps, w.ProgressCompleted,
		w.CancellationReason, boolToInt(w.CancelRequested), nowStr, nowStr,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return dicomweb.Workitem{}, fmt.Errorf("create: %w: uid already exists", dicomweb.ErrInvalidInput)
		}
		return dicomweb.Workitem{}, fmt.Errorf("create: %w", err)
	}

	w.CreatedAt = now
	w.UpdatedAt = now
	return w, nil
}

// Update loads the row, applies mutate inside the transaction, and
// persists the result. An error from mutate aborts without wrapping so
// the service sentinels survive errors.Is checks.
func (r *worklistRepo) Update(ctx context.Context, uid string, mutate func(*dicomweb.Workitem) error) (dicomweb.Workitem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	w, err := getWorkitem(ctx, tx, uid)
	if err != nil {
		if errors.Is(err, dicomweb.ErrNotFound) {
			return dicomweb.Workitem{}, dicomweb.ErrNotFound
		}
		return dicomweb.Workitem{}, fmt.Errorf("update: get: %w", err)
	}

	if err := mutate(&w); err != nil {
		return dicomweb.Workitem{}, err
	}

	now := time.Now().UTC()
	w.UpdatedAt = now

	query := `UPDATE dicom_workitems
		SET state = ?, priority = ?, transaction_uid = ?, patient_name = ?,
			label = ?, labels = ?, progress_steps = ?, progress_completed = ?,
			cancellation_reason = ?, cancel_requested = ?, updated_at = ?
		WHERE uid = ?`

	_, err = tx.ExecContext(ctx, query,
		string(w.State), w.Priority, w.TransactionUID, w.PatientName,
		w.Label, marshalLabels(w.Labels), w.ProgressSteps, w.ProgressCompleted,
		w.CancellationReason, boolToInt(w.CancelRequested), now.Format(time.RFC3339Nano),
		uid,
	)
	if err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("update: exec: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("update: commit: %w", err)
	}

	return w, nil
}

func workitemFilter(q dicomweb.WorkitemQuery) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if q.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, string(q.State))
	}
	if q.PatientID != "" {
		conditions = append(conditions, "patient_id = ?")
		args = append(args, q.PatientID)
	}
	if q.StudyUID != "" {
		conditions = append(conditions, "study_uid = ?")
		args = append(args, q.StudyUID)
	}
	if q.Label != "" {
		conditions = append(conditions, "(label = ? OR labels LIKE '%' || ? || '%')")
		args = append(args, q.Label, `"`+q.Label+`"`)
	}

	return strings.Join(conditions, " AND "), args
}

func (r *worklistRepo) Search(ctx context.Context, q dicomweb.WorkitemQuery) (dicomweb.WorkitemResult, error) {
	where, args := workitemFilter(q)

	total, err := r.Count(ctx, q)
	if err != nil {
		return dicomweb.WorkitemResult{}, err
	}

	query := fmt.Sprintf(`SELECT %s FROM dicom_workitems WHERE %s
		ORDER BY created_at, uid
		LIMIT ? OFFSET ?`, workitemColumns, where)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return dicomweb.WorkitemResult{}, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]dicomweb.Workitem, 0, q.Limit)
	for rows.Next() {
		w, scanErr := scanWorkitem(rows)
		if scanErr != nil {
			return dicomweb.WorkitemResult{}, fmt.Errorf("search: scan: %w", scanErr)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return dicomweb.WorkitemResult{}, fmt.Errorf("search: rows: %w", err)
	}

	return dicomweb.WorkitemResult{Items: items, Total: total}, nil
}

func (r *worklistRepo) Count(ctx context.Context, q dicomweb.WorkitemQuery) (int, error) {
	where, args := workitemFilter(q)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM dicom_workitems WHERE %s`, where)
	var total int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
