package verifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoUpsertReturnsRowID(t *testing.T) {
	repo, mock := newMockRepo(t)

	createdAt := time.Now().UTC().Add(-time.Hour)
	updatedAt := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO verification_runs").
		WithArgs(
			sqlmock.AnyArg(), // generated id
			"app-1",
			KindDocumentFraudCheck,
			string(StatusInProgress),
			2,
			0,
			sqlmock.AnyArg(), // current_document
			sqlmock.AnyArg(), // document_ids
			sqlmock.AnyArg(), // findings
			sqlmock.AnyArg(), // now
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("existing-run-id", createdAt, updatedAt))

	run, err := repo.Upsert(context.Background(), Run{
		ApplicationID:  "app-1",
		Kind:           KindDocumentFraudCheck,
		Status:         StatusInProgress,
		TotalDocuments: 2,
		DocumentIDs:    []string{"doc-1", "doc-2"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if run.ID != "existing-run-id" {
		t.Fatalf("expected conflict clause to return the existing id, got %s", run.ID)
	}
	if run.Result != nil || run.CompletedAt != nil {
		t.Fatalf("restart must clear result fields: %+v", run)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateProgressGuardsTerminal(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE verification_runs").
		WithArgs(1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM verification_runs").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("success"))

	err := repo.UpdateProgress(context.Background(), "run-1", 1, "doc.pdf", []Finding{{DocumentID: "doc-1"}})
	if !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateProgressMissingRun(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE verification_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM verification_runs").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := repo.UpdateProgress(context.Background(), "missing", 1, "doc.pdf", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoFinalize(t *testing.T) {
	repo, mock := newMockRepo(t)

	completedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE verification_runs").
		WithArgs(
			string(StatusFailed),
			sqlmock.AnyArg(), // result json
			sqlmock.AnyArg(), // findings json
			1,
			completedAt,
			sqlmock.AnyArg(),
			"run-1",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result := Result{
		OverallRisk: RiskHigh,
		RiskScore:   75,
		Findings:    []Finding{{DocumentID: "doc-1", RiskLevel: RiskHigh}},
		CompletedAt: completedAt,
	}
	if err := repo.Finalize(context.Background(), "run-1", StatusFailed, result, completedAt); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFinalizeRejectsNonTerminal(t *testing.T) {
	repo, _ := newMockRepo(t)

	err := repo.Finalize(context.Background(), "run-1", StatusInProgress, Result{}, time.Now().UTC())
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestPGRepoListStalled(t *testing.T) {
	repo, mock := newMockRepo(t)

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "application_id", "kind", "status", "total_documents", "processed_count",
		"current_document", "document_ids", "findings", "result", "created_at", "updated_at", "completed_at",
	}).AddRow(
		"run-1", "app-1", KindDocumentFraudCheck, "in_progress", 3, 1,
		"payslip.pdf", []byte(`["doc-1","doc-2","doc-3"]`), []byte(`[{"documentId":"doc-1","riskLevel":"low"}]`),
		nil, time.Now().UTC().Add(-time.Hour), cutoff.Add(-time.Minute), nil,
	)

	mock.ExpectQuery("SELECT (.+) FROM verification_runs").
		WithArgs(KindDocumentFraudCheck, cutoff, 10).
		WillReturnRows(rows)

	runs, err := repo.ListStalled(context.Background(), KindDocumentFraudCheck, cutoff, 10)
	if err != nil {
		t.Fatalf("ListStalled: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != "run-1" || runs[0].ProcessedCount != 1 {
		t.Fatalf("unexpected run: %+v", runs[0])
	}
	if len(runs[0].DocumentIDs) != 3 || len(runs[0].Findings) != 1 {
		t.Fatalf("json columns not decoded: %+v", runs[0])
	}
}
