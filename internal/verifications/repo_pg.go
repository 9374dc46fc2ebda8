package verifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `id, application_id, kind, status, total_documents, processed_count, current_document, document_ids, findings, result, created_at, updated_at, completed_at`

// Upsert creates or restarts the run for (application, kind). The conflict
// clause keeps the existing row id so pollers holding it keep working after
// a restart.
func (r *PGRepo) Upsert(ctx context.Context, run Run) (Run, error) {
	const query = `
INSERT INTO verification_runs (
    id,
    application_id,
    kind,
    status,
    total_documents,
    processed_count,
    current_document,
    document_ids,
    findings,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (application_id, kind) DO UPDATE SET
    status = EXCLUDED.status,
    total_documents = EXCLUDED.total_documents,
    processed_count = EXCLUDED.processed_count,
    current_document = EXCLUDED.current_document,
    document_ids = EXCLUDED.document_ids,
    findings = EXCLUDED.findings,
    result = NULL,
    completed_at = NULL,
    updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at`

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Findings == nil {
		run.Findings = []Finding{}
	}

	docIDs, err := json.Marshal(run.DocumentIDs)
	if err != nil {
		return Run{}, err
	}
	findings, err := json.Marshal(run.Findings)
	if err != nil {
		return Run{}, err
	}

	now := time.Now().UTC()
	err = r.DB.QueryRowContext(
		ctx,
		query,
		run.ID,
		run.ApplicationID,
		run.Kind,
		string(run.Status),
		run.TotalDocuments,
		run.ProcessedCount,
		nullString(run.CurrentDocument),
		docIDs,
		findings,
		now,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return Run{}, err
	}
	run.Result = nil
	run.CompletedAt = nil
	return run, nil
}

func scanRun(scan func(dest ...any) error) (Run, error) {
	var run Run
	var status string
	var currentDocument sql.NullString
	var docIDs []byte
	var findings []byte
	var result []byte
	var completedAt sql.NullTime
	err := scan(
		&run.ID,
		&run.ApplicationID,
		&run.Kind,
		&status,
		&run.TotalDocuments,
		&run.ProcessedCount,
		&currentDocument,
		&docIDs,
		&findings,
		&result,
		&run.CreatedAt,
		&run.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	if currentDocument.Valid {
		run.CurrentDocument = currentDocument.String
	}
	if len(docIDs) > 0 {
		if err := json.Unmarshal(docIDs, &run.DocumentIDs); err != nil {
			return Run{}, err
		}
	}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &run.Findings); err != nil {
			return Run{}, err
		}
	}
	if len(result) > 0 {
		var res Result
		if err := json.Unmarshal(result, &res); err != nil {
			return Run{}, err
		}
		run.Result = &res
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetByID fetches a run by ID.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	const query = `
SELECT ` + runColumns + `
FROM verification_runs
WHERE id = $1
LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, runID)
	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// GetByApplication fetches the run for (application, kind).
func (r *PGRepo) GetByApplication(ctx context.Context, applicationID, kind string) (Run, error) {
	const query = `
SELECT ` + runColumns + `
FROM verification_runs
WHERE application_id = $1 AND kind = $2
LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, applicationID, kind)
	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// UpdateProgress writes cursor state, guarded so terminal runs are never
// overwritten by late or redelivered steps.
func (r *PGRepo) UpdateProgress(ctx context.Context, runID string, processedCount int, currentDocument string, findings []Finding) error {
	const query = `
UPDATE verification_runs
SET processed_count = $1, current_document = $2, findings = $3, updated_at = $4
WHERE id = $5 AND status = 'in_progress'`

	if findings == nil {
		findings = []Finding{}
	}
	payload, err := json.Marshal(findings)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx, query, processedCount, nullString(currentDocument), payload, time.Now().UTC(), runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.classifyMissedWrite(ctx, runID)
	}
	return nil
}

// Finalize moves an in_progress run to a terminal status with its result.
func (r *PGRepo) Finalize(ctx context.Context, runID string, status Status, result Result, completedAt time.Time) error {
	if !status.Terminal() {
		return ErrIllegalTransition
	}

	const query = `
UPDATE verification_runs
SET status = $1, result = $2, findings = $3, processed_count = $4, current_document = NULL, completed_at = $5, updated_at = $6
WHERE id = $7 AND status = 'in_progress'`

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	findings, err := json.Marshal(result.Findings)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx, query, string(status), payload, findings, len(result.Findings), completedAt, time.Now().UTC(), runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.classifyMissedWrite(ctx, runID)
	}
	return nil
}

// ListStalled returns in_progress runs without recent progress, oldest first.
func (r *PGRepo) ListStalled(ctx context.Context, kind string, updatedBefore time.Time, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT ` + runColumns + `
FROM verification_runs
WHERE kind = $1 AND status = 'in_progress' AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3`

	rows, err := r.DB.QueryContext(ctx, query, kind, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// classifyMissedWrite distinguishes a missing row from a terminal one after
// a guarded update matched nothing.
func (r *PGRepo) classifyMissedWrite(ctx context.Context, runID string) error {
	const query = `SELECT status FROM verification_runs WHERE id = $1 LIMIT 1`
	var status string
	err := r.DB.QueryRowContext(ctx, query, runID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if Status(status).Terminal() {
		return ErrAlreadyFinal
	}
	return ErrNotFound
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
