package documents

import (
	"context"
	"time"
)

// DocumentsRepo defines persistence operations for documents.
type DocumentsRepo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, applicationID, documentID string) (Document, error)
	ListByApplication(ctx context.Context, applicationID string, limit, offset int) ([]Document, error)
	// ListAnalyzable returns documents that have stored content, oldest
	// first, defining the processing order of a verification chain.
	ListAnalyzable(ctx context.Context, applicationID string) ([]Document, error)
	UpdateExtraction(ctx context.Context, applicationID, documentID, extractedKey string, extractedAt time.Time) error
	UpdateExtractedData(ctx context.Context, applicationID, documentID string, data map[string]any) error
	// ExtractedDataByApplication returns extracted fields keyed by doc type
	// for cross-document consistency checks.
	ExtractedDataByApplication(ctx context.Context, applicationID string) (map[string]map[string]any, error)
}
