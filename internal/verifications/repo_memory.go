package verifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	runs map[string]Run            // runID -> run
	keys map[string]string         // applicationID|kind -> runID
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		runs: make(map[string]Run),
		keys: make(map[string]string),
		now:  time.Now,
	}
}

func runKey(applicationID, kind string) string {
	return applicationID + "|" + kind
}

// Upsert creates or restarts the run for (application, kind), preserving the
// existing row id on restart.
func (r *MemoryRepo) Upsert(ctx context.Context, run Run) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	key := runKey(run.ApplicationID, run.Kind)
	if existingID, ok := r.keys[key]; ok {
		run.ID = existingID
		run.CreatedAt = r.runs[existingID].CreatedAt
	} else {
		if run.ID == "" {
			run.ID = uuid.NewString()
		}
		run.CreatedAt = now
		r.keys[key] = run.ID
	}
	run.UpdatedAt = now
	r.runs[run.ID] = cloneRun(run)
	return cloneRun(run), nil
}

// GetByID returns a run by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(run), nil
}

// GetByApplication returns the run for (application, kind).
func (r *MemoryRepo) GetByApplication(ctx context.Context, applicationID, kind string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	runID, ok := r.keys[runKey(applicationID, kind)]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(r.runs[runID]), nil
}

// UpdateProgress writes cursor state for an in_progress run.
func (r *MemoryRepo) UpdateProgress(ctx context.Context, runID string, processedCount int, currentDocument string, findings []Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		return ErrAlreadyFinal
	}
	run.ProcessedCount = processedCount
	run.CurrentDocument = currentDocument
	run.Findings = append([]Finding(nil), findings...)
	run.UpdatedAt = r.now().UTC()
	r.runs[runID] = run
	return nil
}

// Finalize moves an in_progress run to a terminal status.
func (r *MemoryRepo) Finalize(ctx context.Context, runID string, status Status, result Result, completedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return ErrNotFound
	}
	next, err := run.Status.Transition(status)
	if err != nil {
		if run.Status.Terminal() {
			return ErrAlreadyFinal
		}
		return err
	}
	run.Status = next
	run.CurrentDocument = ""
	run.ProcessedCount = len(result.Findings)
	run.Findings = append([]Finding(nil), result.Findings...)
	run.Result = &result
	run.CompletedAt = &completedAt
	run.UpdatedAt = r.now().UTC()
	r.runs[runID] = run
	return nil
}

// ListStalled returns in_progress runs not updated since the cutoff,
// oldest first.
func (r *MemoryRepo) ListStalled(ctx context.Context, kind string, updatedBefore time.Time, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Run
	for _, run := range r.runs {
		if run.Kind != kind || run.Status != StatusInProgress {
			continue
		}
		if !run.UpdatedAt.Before(updatedBefore) {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(run Run) Run {
	out := run
	out.DocumentIDs = append([]string(nil), run.DocumentIDs...)
	out.Findings = append([]Finding(nil), run.Findings...)
	if run.Result != nil {
		res := *run.Result
		res.Findings = append([]Finding(nil), run.Result.Findings...)
		res.ConsistencyChecks = append([]ConsistencyCheck(nil), run.Result.ConsistencyChecks...)
		out.Result = &res
	}
	if run.CompletedAt != nil {
		at := *run.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

var _ Repo = (*MemoryRepo)(nil)
