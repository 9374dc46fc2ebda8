package documents

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"loancheck-backend/internal/shared/storage/object"
)

// Service contains business logic for documents.
type Service struct {
	Store object.ObjectStore
	Repo  DocumentsRepo
}

// Upload saves the file to object storage and records the document.
func (s *Service) Upload(ctx context.Context, applicationID, docType, fileName string, r io.Reader) (Document, error) {
	if applicationID == "" || fileName == "" {
		return Document{}, ErrInvalidInput
	}
	docType = strings.ToLower(strings.TrimSpace(docType))
	if docType == "" {
		return Document{}, fmt.Errorf("%w: docType is required", ErrInvalidInput)
	}

	storageKey, size, mimeType, err := s.Store.Save(ctx, applicationID, fileName, r)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		DocType:       docType,
		FileName:      fileName,
		MimeType:      mimeType,
		SizeBytes:     size,
		StorageKey:    storageKey,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}

	return doc, nil
}

// CreateFromS3 records a document already uploaded through a presigned URL.
func (s *Service) CreateFromS3(ctx context.Context, applicationID, docType, s3Key, fileName, contentType string, sizeBytes int64) (Document, error) {
	if applicationID == "" || s3Key == "" || fileName == "" {
		return Document{}, ErrInvalidInput
	}
	docType = strings.ToLower(strings.TrimSpace(docType))
	if docType == "" {
		return Document{}, fmt.Errorf("%w: docType is required", ErrInvalidInput)
	}

	doc := Document{
		ID:              uuid.NewString(),
		ApplicationID:   applicationID,
		DocType:         docType,
		FileName:        fileName,
		MimeType:        contentType,
		SizeBytes:       sizeBytes,
		StorageProvider: "s3",
		StorageKey:      s3Key,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}

	return doc, nil
}

// Get returns a document by ID scoped to the application.
func (s *Service) Get(ctx context.Context, applicationID, documentID string) (Document, error) {
	if applicationID == "" || documentID == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, applicationID, documentID)
}

// List returns documents for an application.
func (s *Service) List(ctx context.Context, applicationID string, limit, offset int) ([]Document, error) {
	if applicationID == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByApplication(ctx, applicationID, limit, offset)
}
