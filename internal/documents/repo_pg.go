package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements DocumentsRepo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const docColumns = `id, application_id, doc_type, file_name, mime_type, size_bytes, storage_provider, storage_key, extracted_text_key, extracted_data, extracted_at, created_at`

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    application_id,
    doc_type,
    file_name,
    mime_type,
    size_bytes,
    storage_provider,
    storage_key,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	storageProvider := doc.StorageProvider
	if storageProvider == "" {
		storageProvider = "local"
	}

	var storageKey sql.NullString
	if doc.StorageKey != "" {
		storageKey = sql.NullString{String: doc.StorageKey, Valid: true}
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.ApplicationID,
		doc.DocType,
		doc.FileName,
		doc.MimeType,
		doc.SizeBytes,
		storageProvider,
		storageKey,
		doc.CreatedAt,
	)
	return err
}

func scanDocument(scan func(dest ...any) error) (Document, error) {
	var doc Document
	var storageProvider sql.NullString
	var storageKey sql.NullString
	var extractedKey sql.NullString
	var extractedData []byte
	var extractedAt sql.NullTime
	err := scan(
		&doc.ID,
		&doc.ApplicationID,
		&doc.DocType,
		&doc.FileName,
		&doc.MimeType,
		&doc.SizeBytes,
		&storageProvider,
		&storageKey,
		&extractedKey,
		&extractedData,
		&extractedAt,
		&doc.CreatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if storageProvider.Valid {
		doc.StorageProvider = storageProvider.String
	}
	if storageKey.Valid {
		doc.StorageKey = storageKey.String
	}
	if extractedKey.Valid {
		doc.ExtractedTextKey = extractedKey.String
	}
	if len(extractedData) > 0 {
		var data map[string]any
		if err := json.Unmarshal(extractedData, &data); err == nil {
			doc.ExtractedData = data
		}
	}
	if extractedAt.Valid {
		doc.ExtractedAt = &extractedAt.Time
	}
	return doc, nil
}

// GetByID fetches a document by ID for an application.
func (r *PGRepo) GetByID(ctx context.Context, applicationID, documentID string) (Document, error) {
	const query = `
SELECT ` + docColumns + `
FROM documents
WHERE application_id = $1 AND id = $2 AND deleted_at IS NULL
LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, applicationID, documentID)
	doc, err := scanDocument(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListByApplication lists documents ordered newest-first.
func (r *PGRepo) ListByApplication(ctx context.Context, applicationID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
SELECT ` + docColumns + `
FROM documents
WHERE application_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, applicationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ListAnalyzable lists documents with stored content, oldest first.
func (r *PGRepo) ListAnalyzable(ctx context.Context, applicationID string) ([]Document, error) {
	const query = `
SELECT ` + docColumns + `
FROM documents
WHERE application_id = $1 AND deleted_at IS NULL AND storage_key IS NOT NULL
ORDER BY created_at ASC`

	rows, err := r.DB.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// UpdateExtraction stores the extracted text metadata for a document.
func (r *PGRepo) UpdateExtraction(ctx context.Context, applicationID, documentID, extractedKey string, extractedAt time.Time) error {
	const query = `
UPDATE documents
SET extracted_text_key = $1, extracted_at = $2
WHERE application_id = $3 AND id = $4 AND extracted_text_key IS NULL`
	_, err := r.DB.ExecContext(ctx, query, extractedKey, extractedAt, applicationID, documentID)
	return err
}

// UpdateExtractedData stores structured fields pulled out during analysis.
func (r *PGRepo) UpdateExtractedData(ctx context.Context, applicationID, documentID string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	const query = `
UPDATE documents
SET extracted_data = $1
WHERE application_id = $2 AND id = $3`
	_, err = r.DB.ExecContext(ctx, query, payload, applicationID, documentID)
	return err
}

// ExtractedDataByApplication returns extracted fields per doc type, the
// newest document of each type winning.
func (r *PGRepo) ExtractedDataByApplication(ctx context.Context, applicationID string) (map[string]map[string]any, error) {
	const query = `
SELECT doc_type, extracted_data
FROM documents
WHERE application_id = $1 AND deleted_at IS NULL AND extracted_data IS NOT NULL
ORDER BY created_at ASC`

	rows, err := r.DB.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var docType string
		var payload []byte
		if err := rows.Scan(&docType, &payload); err != nil {
			return nil, err
		}
		var data map[string]any
		if err := json.Unmarshal(payload, &data); err != nil {
			continue
		}
		if len(data) == 0 {
			continue
		}
		out[docType] = data
	}
	return out, rows.Err()
}

var _ DocumentsRepo = (*PGRepo)(nil)
