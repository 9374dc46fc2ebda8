package verifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"loancheck-backend/internal/documents"
	"loancheck-backend/internal/queue"
	"loancheck-backend/internal/shared/metrics"
	"loancheck-backend/internal/shared/telemetry"
)

// Service orchestrates chained verification runs. One queue message is
// consumed per document; each step appends exactly one finding and enqueues
// the cursor's successor, so findings stay in document order.
type Service struct {
	Repo     Repo
	DocRepo  documents.DocumentsRepo
	Analyzer *Analyzer
	Queue    queue.Client
}

// Start creates or restarts the verification run for an application and
// enqueues the first chain step. It returns before any document is analyzed.
func (s *Service) Start(ctx context.Context, applicationID string) (Run, error) {
	if strings.TrimSpace(applicationID) == "" {
		return Run{}, errors.New("applicationID is required")
	}
	if s.Queue == nil {
		return Run{}, errors.New("job queue not configured")
	}

	docs, err := s.DocRepo.ListAnalyzable(ctx, applicationID)
	if err != nil {
		return Run{}, fmt.Errorf("list analyzable documents: %w", err)
	}
	if len(docs) == 0 {
		return Run{}, ErrNoDocuments
	}

	docIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		docIDs = append(docIDs, doc.ID)
	}

	run, err := s.Repo.Upsert(ctx, Run{
		ApplicationID:  applicationID,
		Kind:           KindDocumentFraudCheck,
		Status:         StatusInProgress,
		TotalDocuments: len(docIDs),
		ProcessedCount: 0,
		DocumentIDs:    docIDs,
		Findings:       []Finding{},
	})
	if err != nil {
		return Run{}, err
	}

	metrics.IncVerificationStarted()
	telemetry.Info("verification.started", map[string]any{
		"request_id":      requestIDFromContext(ctx),
		"application_id":  applicationID,
		"verification_id": run.ID,
		"total_documents": run.TotalDocuments,
	})

	// A failed enqueue leaves the run in_progress with no consumer; the
	// reconciler picks it up instead of the caller seeing an error.
	if err := s.enqueueStep(ctx, run, 0, []Finding{}); err != nil {
		telemetry.Error("verification.enqueue_failed", map[string]any{
			"request_id":      requestIDFromContext(ctx),
			"verification_id": run.ID,
			"cursor":          0,
			"error":           err.Error(),
		})
	}

	return run, nil
}

// ProcessStep consumes one chain step. The message cursor and findings are
// hints; the persisted run always wins, which makes redelivered messages
// safe to replay. A returned error means the step should be redelivered.
func (s *Service) ProcessStep(ctx context.Context, msg queue.StepMessage) error {
	metrics.IncStepJobsReceived()
	startedAt := time.Now().UTC()
	ctx = withRequestID(ctx, msg.RequestID)

	run, err := s.Repo.GetByID(ctx, msg.VerificationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.dropStep(ctx, msg, "run not found")
			return nil
		}
		metrics.IncStepJobsFailed()
		return fmt.Errorf("run lookup id=%s: %w", msg.VerificationID, err)
	}
	if run.Status.Terminal() {
		s.dropStep(ctx, msg, "run already terminal")
		return nil
	}

	cursor := run.ProcessedCount
	findings := append([]Finding(nil), run.Findings...)
	if msg.CurrentIndex != cursor {
		telemetry.Warn("verification.cursor_resync", map[string]any{
			"request_id":      msg.RequestID,
			"verification_id": run.ID,
			"message_cursor":  msg.CurrentIndex,
			"store_cursor":    cursor,
		})
	}

	if cursor >= len(run.DocumentIDs) {
		// All findings persisted but the run never finalized, e.g. a crash
		// between the progress write and the finalize write.
		if err := s.finalize(ctx, run, findings); err != nil {
			metrics.IncStepJobsFailed()
			return err
		}
		s.completeStep(startedAt)
		return nil
	}

	documentID := run.DocumentIDs[cursor]
	finding, extractedData, analyzeErr := s.Analyzer.Analyze(ctx, run.ApplicationID, documentID)
	if analyzeErr != nil {
		finding = s.unknownFinding(ctx, run.ApplicationID, documentID, analyzeErr)
		telemetry.Warn("verification.document_failed", map[string]any{
			"request_id":      msg.RequestID,
			"verification_id": run.ID,
			"document_id":     documentID,
			"cursor":          cursor,
			"error":           sanitizeError(analyzeErr),
		})
	} else if len(extractedData) > 0 {
		if err := s.DocRepo.UpdateExtractedData(ctx, run.ApplicationID, documentID, extractedData); err != nil {
			telemetry.Warn("verification.extracted_data_write_failed", map[string]any{
				"request_id":      msg.RequestID,
				"verification_id": run.ID,
				"document_id":     documentID,
				"error":           err.Error(),
			})
		}
	}

	findings = append(findings, finding)
	processed := cursor + 1

	if err := s.Repo.UpdateProgress(ctx, run.ID, processed, finding.FileName, findings); err != nil {
		if errors.Is(err, ErrAlreadyFinal) {
			s.dropStep(ctx, msg, "run finalized during step")
			return nil
		}
		metrics.IncStepJobsFailed()
		return fmt.Errorf("persist progress id=%s cursor=%d: %w", run.ID, cursor, err)
	}

	telemetry.Info("verification.step", map[string]any{
		"request_id":      msg.RequestID,
		"verification_id": run.ID,
		"application_id":  run.ApplicationID,
		"document_id":     documentID,
		"processed":       processed,
		"total":           run.TotalDocuments,
		"risk_level":      finding.RiskLevel,
	})

	if processed < len(run.DocumentIDs) {
		if err := s.enqueueStep(ctx, run, processed, findings); err != nil {
			metrics.IncStepJobsFailed()
			return fmt.Errorf("enqueue next step id=%s cursor=%d: %w", run.ID, processed, err)
		}
		s.completeStep(startedAt)
		return nil
	}

	if err := s.finalize(ctx, run, findings); err != nil {
		metrics.IncStepJobsFailed()
		return err
	}
	s.completeStep(startedAt)
	return nil
}

// finalize runs the consistency pass over the application's full extracted
// data, aggregates risk and writes the terminal result.
func (s *Service) finalize(ctx context.Context, run Run, findings []Finding) error {
	data, err := s.DocRepo.ExtractedDataByApplication(ctx, run.ApplicationID)
	if err != nil {
		return fmt.Errorf("load extracted data app=%s: %w", run.ApplicationID, err)
	}

	checks := RunConsistencyChecks(data, time.Now().UTC())
	overallRisk, riskScore := AggregateRisk(findings, checks)
	status := StatusForRisk(overallRisk)

	completedAt := time.Now().UTC()
	result := Result{
		OverallRisk:       overallRisk,
		RiskScore:         riskScore,
		Findings:          findings,
		ConsistencyChecks: checks,
		CompletedAt:       completedAt,
	}

	if err := s.Repo.Finalize(ctx, run.ID, status, result, completedAt); err != nil {
		if errors.Is(err, ErrAlreadyFinal) {
			telemetry.Warn("verification.finalize_dropped", map[string]any{
				"request_id":      requestIDFromContext(ctx),
				"verification_id": run.ID,
			})
			return nil
		}
		return fmt.Errorf("finalize id=%s: %w", run.ID, err)
	}

	metrics.IncVerificationCompleted()
	telemetry.Info("verification.completed", map[string]any{
		"request_id":      requestIDFromContext(ctx),
		"verification_id": run.ID,
		"application_id":  run.ApplicationID,
		"status":          string(status),
		"overall_risk":    overallRisk,
		"risk_score":      riskScore,
		"failed_checks":   countFailed(checks),
	})
	return nil
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, runID string) (Run, error) {
	if runID == "" {
		return Run{}, errors.New("verification id is required")
	}
	return s.Repo.GetByID(ctx, runID)
}

// GetByApplication returns the fraud-check run for an application.
func (s *Service) GetByApplication(ctx context.Context, applicationID string) (Run, error) {
	if applicationID == "" {
		return Run{}, errors.New("applicationID is required")
	}
	return s.Repo.GetByApplication(ctx, applicationID, KindDocumentFraudCheck)
}

// ResumeStalled re-enqueues in_progress runs that made no progress within
// olderThan. Returns the number of runs resumed.
func (s *Service) ResumeStalled(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if s.Queue == nil {
		return 0, errors.New("job queue not configured")
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	runs, err := s.Repo.ListStalled(ctx, KindDocumentFraudCheck, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stalled runs: %w", err)
	}

	resumed := 0
	for _, run := range runs {
		if err := s.enqueueStep(ctx, run, run.ProcessedCount, run.Findings); err != nil {
			telemetry.Error("verification.resume_failed", map[string]any{
				"verification_id": run.ID,
				"cursor":          run.ProcessedCount,
				"error":           err.Error(),
			})
			continue
		}
		metrics.IncVerificationResumed()
		telemetry.Info("verification.resumed", map[string]any{
			"verification_id": run.ID,
			"application_id":  run.ApplicationID,
			"cursor":          run.ProcessedCount,
			"total":           run.TotalDocuments,
			"stalled_since":   run.UpdatedAt.Format(time.RFC3339),
		})
		resumed++
	}
	return resumed, nil
}

func (s *Service) enqueueStep(ctx context.Context, run Run, cursor int, findings []Finding) error {
	payload, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}
	return s.Queue.Send(ctx, queue.StepMessage{
		VerificationID:      run.ID,
		ApplicationID:       run.ApplicationID,
		DocumentIDs:         run.DocumentIDs,
		CurrentIndex:        cursor,
		AccumulatedFindings: payload,
		RequestID:           requestIDFromContext(ctx),
		EnqueuedAt:          time.Now().UTC().Format(time.RFC3339),
		Version:             1,
	})
}

// unknownFinding records a per-document failure without aborting the chain.
func (s *Service) unknownFinding(ctx context.Context, applicationID, documentID string, cause error) Finding {
	finding := Finding{
		DocumentID: documentID,
		RiskLevel:  RiskUnknown,
		Confidence: 0,
		Issues:     []string{"analysis failed: " + sanitizeError(cause)},
	}
	if doc, err := s.DocRepo.GetByID(ctx, applicationID, documentID); err == nil {
		finding.DocumentType = doc.DocType
		finding.FileName = doc.FileName
	}
	return finding
}

func (s *Service) dropStep(ctx context.Context, msg queue.StepMessage, reason string) {
	metrics.IncStepJobsDropped()
	telemetry.Info("verification.step_dropped", map[string]any{
		"request_id":      msg.RequestID,
		"verification_id": msg.VerificationID,
		"cursor":          msg.CurrentIndex,
		"reason":          reason,
	})
}

func (s *Service) completeStep(startedAt time.Time) {
	metrics.IncStepJobsCompleted()
	metrics.ObserveStepDurationMs(float64(time.Since(startedAt).Microseconds()) / 1000.0)
}

func countFailed(checks []ConsistencyCheck) int {
	n := 0
	for _, c := range checks {
		if c.Status == CheckFail {
			n++
		}
	}
	return n
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
