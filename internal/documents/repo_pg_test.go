package documents

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

func docRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "application_id", "doc_type", "file_name", "mime_type",
		"size_bytes", "storage_provider", "storage_key", "extracted_text_key",
		"extracted_data", "extracted_at", "created_at",
	})
}

func TestPGRepoCreateDefaultsProvider(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(
			"doc-1",
			"app-1",
			TypePaySlip,
			"payslip.pdf",
			"application/pdf",
			int64(2048),
			"local",
			sqlmock.AnyArg(), // storage key
			sqlmock.AnyArg(), // created_at
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), Document{
		ID:            "doc-1",
		ApplicationID: "app-1",
		DocType:       TypePaySlip,
		FileName:      "payslip.pdf",
		MimeType:      "application/pdf",
		SizeBytes:     2048,
		StorageKey:    "app-1/doc-1/payslip.pdf",
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT .+ FROM documents").
		WithArgs("app-1", "missing").
		WillReturnRows(docRows())

	_, err := repo.GetByID(context.Background(), "app-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListAnalyzableDecodesExtractedData(t *testing.T) {
	repo, mock := newMockRepo(t)

	created := time.Now().UTC()
	extractedAt := created.Add(time.Minute)
	rows := docRows().
		AddRow("doc-1", "app-1", TypeBankStatement, "statement.pdf", "application/pdf",
			int64(4096), "s3", "app-1/doc-1/statement.pdf", "app-1/doc-1/statement.pdf.extracted.txt",
			[]byte(`{"average_monthly_credit":2100}`), extractedAt, created)

	mock.ExpectQuery("SELECT .+ FROM documents").
		WithArgs("app-1").
		WillReturnRows(rows)

	docs, err := repo.ListAnalyzable(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("ListAnalyzable: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	doc := docs[0]
	if doc.ExtractedTextKey != "app-1/doc-1/statement.pdf.extracted.txt" {
		t.Fatalf("unexpected extracted text key %q", doc.ExtractedTextKey)
	}
	if got, ok := doc.ExtractedData["average_monthly_credit"].(float64); !ok || got != 2100 {
		t.Fatalf("unexpected extracted data %v", doc.ExtractedData)
	}
	if doc.ExtractedAt == nil || !doc.ExtractedAt.Equal(extractedAt) {
		t.Fatalf("unexpected extracted at %v", doc.ExtractedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoExtractedDataNewestTypeWins(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"doc_type", "extracted_data"}).
		AddRow(TypePaySlip, []byte(`{"net_pay":2000}`)).
		AddRow(TypePaySlip, []byte(`{"net_pay":2400}`)).
		AddRow(TypeBankStatement, []byte(`not-json`))

	mock.ExpectQuery("SELECT doc_type, extracted_data").
		WithArgs("app-1").
		WillReturnRows(rows)

	data, err := repo.ExtractedDataByApplication(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("ExtractedDataByApplication: %v", err)
	}
	if len(data) != 1 {
		t.Fatalf("expected only the pay slip entry, got %v", data)
	}
	if got := data[TypePaySlip]["net_pay"].(float64); got != 2400 {
		t.Fatalf("expected newest row to win, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
