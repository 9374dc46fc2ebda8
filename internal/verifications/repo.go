package verifications

import (
	"context"
	"time"
)

// Repo defines persistence operations for verification runs.
type Repo interface {
	// Upsert creates the run for (application, kind) or restarts the
	// existing one, reusing its row id. The returned run carries the id.
	Upsert(ctx context.Context, run Run) (Run, error)
	GetByID(ctx context.Context, runID string) (Run, error)
	GetByApplication(ctx context.Context, applicationID, kind string) (Run, error)
	// UpdateProgress writes cursor state for an in_progress run. Writes
	// against a terminal run return ErrAlreadyFinal.
	UpdateProgress(ctx context.Context, runID string, processedCount int, currentDocument string, findings []Finding) error
	// Finalize moves an in_progress run to a terminal status with its
	// result. Finalizing a terminal run returns ErrAlreadyFinal.
	Finalize(ctx context.Context, runID string, status Status, result Result, completedAt time.Time) error
	// ListStalled returns in_progress runs not updated since the cutoff.
	ListStalled(ctx context.Context, kind string, updatedBefore time.Time, limit int) ([]Run, error)
}
