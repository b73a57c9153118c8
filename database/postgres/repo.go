package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axisimaging/dicomweb"
)

const instanceColumns = `id, study_uid, series_uid, sop_instance_uid, sop_class_uid,
	patient_id, content_type, etag, size_bytes, created_at, updated_at`

type instanceRepo struct {
	pool *pgxpool.Pool
}

func scanInstance(row pgx.Row) (dicomweb.InstanceMeta, error) {
	var m dicomweb.InstanceMeta
	err := row.Scan(
		&m.ID, &m.StudyUID, &m.SeriesUID, &m.SOPInstanceUID, &m.SOPClassUID,
		&m.PatientID, &m.ContentType, &m.Etag, &m.SizeBytes, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func (r *instanceRepo) Get(ctx context.Context, key dicomweb.InstanceKey) (dicomweb.InstanceMeta, error) {
	query := `SELECT ` + instanceColumns + `
		FROM dicom_instances
		WHERE study_uid = $1 AND series_uid = $2 AND sop_instance_uid = $3`

	m, err := scanInstance(r.pool.QueryRow(ctx, query, key.StudyUID, key.SeriesUID, key.SOPInstanceUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dicomweb.InstanceMeta{}, dicomweb.ErrNotFound
		}
		return dicomweb.InstanceMeta{}, fmt.Errorf("get: %w", err)
	}
	return m, nil
}

func (r *instanceRepo) Upsert(ctx context.Context, entry dicomweb.InstanceEntry) (dicomweb.InstanceMeta, bool, error) {
	query := `
		INSERT INTO dicom_instances
			(study_uid, series_uid, sop_instance_uid, sop_class_uid,
			 patient_id, content_type, etag, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (study_uid, series_uid, sop_instance_uid) DO UPDATE
		SET sop_class_uid = EXCLUDED.sop_class_uid,
			patient_id = EXCLUDED.patient_id,
			content_type = EXCLUDED.content_type,
			etag = EXCLUDED.etag,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = NOW()
		RETURNING ` + instanceColumns + `, (xmax = 0) AS inserted`

	var m dicomweb.InstanceMeta
	var inserted bool

	err := r.pool.QueryRow(ctx, query,
		entry.StudyUID, entry.SeriesUID, entry.SOPInstanceUID, entry.SOPClassUID,
		entry.PatientID, entry.ContentType, entry.Etag, entry.SizeBytes,
	).Scan(
		&m.ID, &m.StudyUID, &m.SeriesUID, &m.SOPInstanceUID, &m.SOPClassUID,
		&m.PatientID, &m.ContentType, &m.Etag, &m.SizeBytes, &m.CreatedAt, &m.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return dicomweb.InstanceMeta{}, false, fmt.Errorf("upsert: %w", err)
	}

	return m, inserted, nil
}

func instanceFilter(q dicomweb.SearchQuery) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if q.StudyUID != "" {
		args = append(args, q.StudyUID)
		conditions = append(conditions, fmt.Sprintf("study_uid = $%d", len(args)))
	}
	if q.SeriesUID != "" {
		args = append(args, q.SeriesUID)
		conditions = append(conditions, fmt.Sprintf("series_uid = $%d", len(args)))
	}
	if q.PatientID != "" {
		args = append(args, q.PatientID)
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

func (r *instanceRepo) Search(ctx context.Context, q dicomweb.SearchQuery) (dicomweb.SearchResult, error) {
	where, args := instanceFilter(q)

	// Study and series level return one representative row per group.
	var distinctOn, orderBy, countExpr string
	switch q.Level {
	case dicomweb.LevelStudy:
		distinctOn = "DISTINCT ON (study_uid) "
		orderBy = "study_uid, created_at"
		countExpr = "COUNT(DISTINCT study_uid)"
	case dicomweb.LevelSeries:
		distinctOn = "DISTINCT ON (study_uid, series_uid) "
		orderBy = "study_uid, series_uid, created_at"
		countExpr = "COUNT(DISTINCT (study_uid, series_uid))"
	default:
		orderBy = "created_at, sop_instance_uid"
		countExpr = "COUNT(*)"
	}

	countQuery := fmt.Sprintf(`SELECT %s FROM dicom_instances WHERE %s`, countExpr, where)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return dicomweb.SearchResult{}, fmt.Errorf("search: count: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s%s FROM dicom_instances WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, distinctOn, instanceColumns, where, orderBy, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return dicomweb.SearchResult{}, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

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
		WHERE study_uid = $1`
	args := []any{studyUID}

	if seriesUID != "" {
		query += ` AND series_uid = $2`
		args = append(args, seriesUID)
	}
	query += ` ORDER BY series_uid, sop_instance_uid`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

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
	query := `DELETE FROM dicom_instances WHERE study_uid = $1`
	args := []any{key.StudyUID}

	if key.SeriesUID != "" {
		args = append(args, key.SeriesUID)
		query += fmt.Sprintf(` AND series_uid = $%d`, len(args))
	}
	if key.SOPInstanceUID != "" {
		args = append(args, key.SOPInstanceUID)
		query += fmt.Sprintf(` AND sop_instance_uid = $%d`, len(args))
	}

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("delete: %w", dicomweb.ErrNotFound)
	}

	return nil
}

const workitemColumns = `uid, state, priority, transaction_uid, patient_id, patient_name,
	study_uid, label, labels, progress_steps, progress_completed,
	cancellation_reason, cancel_requested, created_at, updated_at`

type worklistRepo struct {
	pool *pgxpool.Pool
}

func scanWorkitem(row pgx.Row) (dicomweb.Workitem, error) {
	var w dicomweb.Workitem
	var state string

	err := row.Scan(
		&w.UID, &state, &w.Priority, &w.TransactionUID, &w.PatientID, &w.PatientName,
		&w.StudyUID, &w.Label, &w.Labels, &w.ProgressSteps, &w.ProgressCompleted,
		&w.CancellationReason, &w.CancelRequested, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return dicomweb.Workitem{}, err
	}

	w.State = dicomweb.WorkitemState(state)
	if len(w.Labels) == 0 {
		w.Labels = nil
	}
	return w, nil
}

func (r *worklistRepo) Get(ctx context.Context, uid string) (dicomweb.Workitem, error) {
	query := `SELECT ` + workitemColumns + ` FROM dicom_workitems WHERE uid = $1`

	w, err := scanWorkitem(r.pool.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dicomweb.Workitem{}, dicomweb.ErrNotFound
		}
		return dicomweb.Workitem{}, fmt.Errorf("get: %w", err)
	}
	return w, nil
}

func (r *worklistRepo) Create(ctx context.Context, w dicomweb.Workitem) (dicomweb.Workitem, error) {
	labels := w.Labels
	if labels == nil {
		labels = []string{}
	}

	query := `INSERT INTO dicom_workitems
		(uid, state, priority, transaction_uid, patient_id, patient_name,
		 study_uid, label, labels, progress_steps, progress_completed,
		 cancellation_reason, cancel_requested)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		w.UID, string(w.State), w.Priority, w.TransactionUID, w.PatientID, w.PatientName,
		w.StudyUID, w.Label, labels, w.ProgressSteps, w.ProgressCompleted,
		w.CancellationReason, w.CancelRequested,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return dicomweb.Workitem{}, fmt.Errorf("create: %w: uid already exists", dicomweb.ErrInvalidInput)
		}
		return dicomweb.Workitem{}, fmt.Errorf("create: %w", err)
	}

	return w, nil
}

// Update locks the row with SELECT FOR UPDATE, applies mutate, and
// persists the result. An error from mutate aborts without wrapping so
// the service sentinels survive errors.Is checks.
func (r *worklistRepo) Update(ctx context.Context, uid string, mutate func(*dicomweb.Workitem) error) (dicomweb.Workitem, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + workitemColumns + ` FROM dicom_workitems WHERE uid = $1 FOR UPDATE`
	w, err := scanWorkitem(tx.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dicomweb.Workitem{}, dicomweb.ErrNotFound
		}
		return dicomweb.Workitem{}, fmt.Errorf("update: get: %w", err)
	}

	if err := mutate(&w); err != nil {
		return dicomweb.Workitem{}, err
	}

	labels := w.Labels
	if labels == nil {
		labels = []string{}
	}

	updateQuery := `UPDATE dicom_workitems
		SET state = $1, priority = $2, transaction_uid = $3, patient_name = $4,
			label = $5, labels = $6, progress_steps = $7, progress_completed = $8,
			cancellation_reason = $9, cancel_requested = $10, updated_at = NOW()
		WHERE uid = $11
		RETURNING updated_at`

	err = tx.QueryRow(ctx, updateQuery,
		string(w.State), w.Priority, w.TransactionUID, w.PatientName,
		w.Label, labels, w.ProgressSteps, w.ProgressCompleted,
		w.CancellationReason, w.CancelRequested,
		uid,
	).Scan(&w.UpdatedAt)
	if err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("update: exec: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return dicomweb.Workitem{}, fmt.Errorf("update: commit: %w", err)
	}

	return w, nil
}

func workitemFilter(q dicomweb.WorkitemQuery) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if q.State != "" {
		args = append(args, string(q.State))
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}
	if q.PatientID != "" {
		args = append(args, q.PatientID)
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if q.StudyUID != "" {
		args = append(args, q.StudyUID)
		conditions = append(conditions, fmt.Sprintf("study_uid = $%d", len(args)))
	}
	if q.Label != "" {
		args = append(args, q.Label)
		conditions = append(conditions, fmt.Sprintf("(label = $%d OR $%d = ANY(labels))", len(args), len(args)))
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
		LIMIT $%d OFFSET $%d`, workitemColumns, where, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return dicomweb.WorkitemResult{}, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

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
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return total, nil
}
