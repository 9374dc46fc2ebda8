package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of DocumentsRepo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string][]Document // applicationID -> documents
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string][]Document),
	}
}

// Create appends a document to an application.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[doc.ApplicationID] = append(r.data[doc.ApplicationID], doc)
	return nil
}

// GetByID returns a document by ID for an application.
func (r *MemoryRepo) GetByID(ctx context.Context, applicationID, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := r.data[applicationID]
	for i := range docs {
		if docs[i].ID == documentID {
			return docs[i], nil
		}
	}
	return Document{}, ErrNotFound
}

// ListByApplication returns documents newest first, honoring limit/offset.
func (r *MemoryRepo) ListByApplication(ctx context.Context, applicationID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	appDocs := r.data[applicationID]
	r.mu.RUnlock()

	if len(appDocs) == 0 || offset >= len(appDocs) {
		return []Document{}, nil
	}

	docs := make([]Document, len(appDocs))
	copy(docs, appDocs)
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return docs[offset:end], nil
}

// ListAnalyzable returns documents with stored content, oldest first.
func (r *MemoryRepo) ListAnalyzable(ctx context.Context, applicationID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	appDocs := r.data[applicationID]
	r.mu.RUnlock()

	docs := make([]Document, 0, len(appDocs))
	for _, doc := range appDocs {
		if doc.StorageKey != "" {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

// UpdateExtraction stores the extracted text metadata for a document.
func (r *MemoryRepo) UpdateExtraction(ctx context.Context, applicationID, documentID, extractedKey string, extractedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := r.data[applicationID]
	for i := range docs {
		if docs[i].ID == documentID {
			if docs[i].ExtractedTextKey == "" {
				docs[i].ExtractedTextKey = extractedKey
				docs[i].ExtractedAt = &extractedAt
				r.data[applicationID] = docs
			}
			return nil
		}
	}
	return ErrNotFound
}

// UpdateExtractedData stores structured fields pulled out during analysis.
func (r *MemoryRepo) UpdateExtractedData(ctx context.Context, applicationID, documentID string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := r.data[applicationID]
	for i := range docs {
		if docs[i].ID == documentID {
			docs[i].ExtractedData = data
			r.data[applicationID] = docs
			return nil
		}
	}
	return ErrNotFound
}

// ExtractedDataByApplication returns extracted fields per doc type, the
// newest document of each type winning.
func (r *MemoryRepo) ExtractedDataByApplication(ctx context.Context, applicationID string) (map[string]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	appDocs := r.data[applicationID]
	r.mu.RUnlock()

	docs := make([]Document, len(appDocs))
	copy(docs, appDocs)
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})

	out := make(map[string]map[string]any)
	for _, doc := range docs {
		if len(doc.ExtractedData) == 0 {
			continue
		}
		out[doc.DocType] = doc.ExtractedData
	}
	return out, nil
}

var _ DocumentsRepo = (*MemoryRepo)(nil)
