package verifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"loancheck-backend/internal/documents"
	"loancheck-backend/internal/llm"
	"loancheck-backend/internal/queue"
	"loancheck-backend/internal/shared/storage/object/local"
)

const testApplicationID = "app-1"

type scriptedLLM struct {
	responses map[string]string // fileName -> JSON response
	failures  map[string]error  // fileName -> error
}

func (s scriptedLLM) AnalyzeDocument(ctx context.Context, input llm.AnalyzeInput) (json.RawMessage, error) {
	_ = ctx
	if err, ok := s.failures[input.FileName]; ok {
		return nil, err
	}
	if resp, ok := s.responses[input.FileName]; ok {
		return json.RawMessage(resp), nil
	}
	return nil, fmt.Errorf("no scripted response for %s", input.FileName)
}

func riskResponse(risk string) string {
	return fmt.Sprintf(`{"riskLevel":%q,"confidence":90,"issues":[],"details":"scripted"}`, risk)
}

func riskResponseWithData(risk string, data map[string]any) string {
	payload, _ := json.Marshal(map[string]any{
		"riskLevel":     risk,
		"confidence":    90,
		"issues":        []string{},
		"details":       "scripted",
		"extractedData": data,
	})
	return string(payload)
}

type captureQueue struct {
	messages []queue.StepMessage
}

func (q *captureQueue) Send(ctx context.Context, msg queue.StepMessage) error {
	_ = ctx
	q.messages = append(q.messages, msg)
	return nil
}

func (q *captureQueue) pop() (queue.StepMessage, bool) {
	if len(q.messages) == 0 {
		return queue.StepMessage{}, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

type seedDoc struct {
	id       string
	docType  string
	fileName string
	content  string
}

func setupChain(t *testing.T, llmClient llm.Client, docs []seedDoc) (*Service, *MemoryRepo, *documents.MemoryRepo, *captureQueue) {
	t.Helper()
	store := local.New(t.TempDir())
	docRepo := documents.NewMemoryRepo()
	runRepo := NewMemoryRepo()
	q := &captureQueue{}

	for _, d := range docs {
		key, _, _, err := store.Save(context.Background(), testApplicationID, d.fileName, bytes.NewReader([]byte(d.content)))
		if err != nil {
			t.Fatalf("save content for %s: %v", d.fileName, err)
		}
		doc := documents.Document{
			ID:               d.id,
			ApplicationID:    testApplicationID,
			DocType:          d.docType,
			FileName:         d.fileName,
			MimeType:         "text/plain",
			SizeBytes:        int64(len(d.content)),
			StorageKey:       key,
			ExtractedTextKey: key,
			CreatedAt:        time.Now().UTC(),
		}
		if err := docRepo.Create(context.Background(), doc); err != nil {
			t.Fatalf("create doc %s: %v", d.id, err)
		}
		// Keep creation order stable for ListAnalyzable.
		time.Sleep(time.Millisecond)
	}

	svc := &Service{
		Repo:    runRepo,
		DocRepo: docRepo,
		Analyzer: &Analyzer{
			DocRepo: docRepo,
			Store:   store,
			LLM:     llmClient,
		},
		Queue: q,
	}
	return svc, runRepo, docRepo, q
}

// drive consumes queued steps to completion, checking monotonic progress
// after every step.
func drive(t *testing.T, svc *Service, q *captureQueue, runID string) {
	t.Helper()
	lastProcessed := 0
	for i := 0; i < 100; i++ {
		msg, ok := q.pop()
		if !ok {
			return
		}
		if err := svc.ProcessStep(context.Background(), msg); err != nil {
			t.Fatalf("process step cursor=%d: %v", msg.CurrentIndex, err)
		}
		run, err := svc.Get(context.Background(), runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if run.ProcessedCount < lastProcessed {
			t.Fatalf("processed count went backwards: %d -> %d", lastProcessed, run.ProcessedCount)
		}
		if len(run.Findings) != run.ProcessedCount {
			t.Fatalf("findings length %d != processed count %d", len(run.Findings), run.ProcessedCount)
		}
		lastProcessed = run.ProcessedCount
	}
	t.Fatal("chain did not drain after 100 steps")
}

func threeCleanDocs() ([]seedDoc, scriptedLLM) {
	docs := []seedDoc{
		{id: "doc-a", docType: "identity_document", fileName: "passport.txt", content: "passport"},
		{id: "doc-b", docType: "pay_slip", fileName: "payslip.txt", content: "payslip"},
		{id: "doc-c", docType: "bank_statement", fileName: "statement.txt", content: "statement"},
	}
	client := scriptedLLM{
		responses: map[string]string{
			"passport.txt":  riskResponse(RiskLow),
			"payslip.txt":   riskResponse(RiskLow),
			"statement.txt": riskResponse(RiskLow),
		},
	}
	return docs, client
}

func TestChainOrderPreservation(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.TotalDocuments != 3 || run.Status != StatusInProgress {
		t.Fatalf("unexpected run after start: %+v", run)
	}

	drive(t, svc, q, run.ID)

	final, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", final.Status)
	}
	wantOrder := []string{"doc-a", "doc-b", "doc-c"}
	if len(final.Findings) != len(wantOrder) {
		t.Fatalf("expected %d findings, got %d", len(wantOrder), len(final.Findings))
	}
	for i, want := range wantOrder {
		if final.Findings[i].DocumentID != want {
			t.Fatalf("findings[%d] = %s, want %s", i, final.Findings[i].DocumentID, want)
		}
	}
	if final.Result == nil || len(final.Result.Findings) != 3 {
		t.Fatalf("expected result with 3 findings, got %+v", final.Result)
	}
}

func TestFailureIsolation(t *testing.T) {
	docs, client := threeCleanDocs()
	client.failures = map[string]error{"payslip.txt": errors.New("model unreachable")}
	svc, _, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	drive(t, svc, q, run.ID)

	final, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !final.Status.Terminal() {
		t.Fatalf("run did not reach a terminal status: %s", final.Status)
	}
	if len(final.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(final.Findings))
	}
	if final.Findings[1].RiskLevel != RiskUnknown {
		t.Fatalf("findings[1].RiskLevel = %s, want unknown", final.Findings[1].RiskLevel)
	}
	if final.Findings[1].Confidence != 0 {
		t.Fatalf("unknown finding confidence = %v, want 0", final.Findings[1].Confidence)
	}
	if len(final.Findings[1].Issues) == 0 {
		t.Fatal("unknown finding should carry an explanatory issue")
	}
	if final.Findings[0].RiskLevel != RiskLow || final.Findings[2].RiskLevel != RiskLow {
		t.Fatalf("neighbors affected: %+v", final.Findings)
	}
}

func TestIdempotentRestart(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, q := setupChain(t, client, docs)

	first, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	// Process one step, then restart before the chain completes.
	msg, ok := q.pop()
	if !ok {
		t.Fatal("expected first step enqueued")
	}
	if err := svc.ProcessStep(context.Background(), msg); err != nil {
		t.Fatalf("process step: %v", err)
	}

	second, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("restart created a new record: %s vs %s", second.ID, first.ID)
	}
	if second.ProcessedCount != 0 || len(second.Findings) != 0 {
		t.Fatalf("restart did not reset progress: %+v", second)
	}

	byApp, err := svc.GetByApplication(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("get by application: %v", err)
	}
	if byApp.ID != first.ID {
		t.Fatalf("application lookup returned different record: %s", byApp.ID)
	}
}

func TestMixedRiskProfileEndToEnd(t *testing.T) {
	docs := []seedDoc{
		{id: "doc-1", docType: "identity_document", fileName: "d1.txt", content: "one"},
		{id: "doc-2", docType: "pay_slip", fileName: "d2.txt", content: "two"},
		{id: "doc-3", docType: "bank_statement", fileName: "d3.txt", content: "three"},
		{id: "doc-4", docType: "utility_bill", fileName: "d4.txt", content: "four"},
		{id: "doc-5", docType: "tax_return", fileName: "d5.txt", content: "five"},
	}
	client := scriptedLLM{
		responses: map[string]string{
			"d1.txt": riskResponse(RiskLow),
			"d2.txt": riskResponse(RiskMedium),
			"d3.txt": riskResponse(RiskLow),
			"d4.txt": riskResponse(RiskHigh),
			"d5.txt": riskResponse(RiskLow),
		},
	}
	svc, _, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	drive(t, svc, q, run.ID)

	final, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Result == nil {
		t.Fatal("expected result")
	}
	if final.Result.OverallRisk != RiskHigh {
		t.Fatalf("overall risk = %s, want high", final.Result.OverallRisk)
	}
	if final.Result.RiskScore != 75 {
		t.Fatalf("risk score = %d, want 75", final.Result.RiskScore)
	}
}

func TestExtractedDataFeedsConsistencyChecks(t *testing.T) {
	docs := []seedDoc{
		{id: "doc-id", docType: "identity_document", fileName: "id.txt", content: "id"},
		{id: "doc-pay", docType: "pay_slip", fileName: "pay.txt", content: "pay"},
	}
	client := scriptedLLM{
		responses: map[string]string{
			"id.txt":  riskResponseWithData(RiskLow, map[string]any{"full_name": "Jane Doe"}),
			"pay.txt": riskResponseWithData(RiskLow, map[string]any{"full_name": "John Smith"}),
		},
	}
	svc, _, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	drive(t, svc, q, run.ID)

	final, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Status != StatusWarning {
		t.Fatalf("expected warning, got %s", final.Status)
	}
	if final.Result == nil {
		t.Fatal("expected result")
	}
	found := false
	for _, c := range final.Result.ConsistencyChecks {
		if c.Name == "name_match" && c.Status == CheckFail {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failed name_match check, got %+v", final.Result.ConsistencyChecks)
	}
	if final.Result.RiskScore != 40 {
		t.Fatalf("risk score = %d, want 40", final.Result.RiskScore)
	}
}

func TestStartWithoutDocuments(t *testing.T) {
	client := scriptedLLM{}
	svc, _, _, _ := setupChain(t, client, nil)

	if _, err := svc.Start(context.Background(), testApplicationID); !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
	if _, err := svc.GetByApplication(context.Background(), testApplicationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no record created, got %v", err)
	}
}

type failingProgressRepo struct {
	Repo
	err error
}

func (r *failingProgressRepo) UpdateProgress(ctx context.Context, runID string, processedCount int, currentDocument string, findings []Finding) error {
	return r.err
}

func TestPersistenceFailureAbortsStep(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, runRepo, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	svc.Repo = &failingProgressRepo{Repo: runRepo, err: errors.New("db unavailable")}

	msg, ok := q.pop()
	if !ok {
		t.Fatal("expected first step enqueued")
	}
	if err := svc.ProcessStep(context.Background(), msg); err == nil {
		t.Fatal("expected step to fail on persistence error")
	}

	got, err := runRepo.GetByID(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusInProgress || got.ProcessedCount != 0 {
		t.Fatalf("run modified despite failed write: %+v", got)
	}
	if len(q.messages) != 0 {
		t.Fatal("no follow-up step should be enqueued after a failed write")
	}
}

func TestRedeliveredStepResyncsFromStore(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first, ok := q.pop()
	if !ok {
		t.Fatal("expected first step enqueued")
	}
	if err := svc.ProcessStep(context.Background(), first); err != nil {
		t.Fatalf("process first step: %v", err)
	}

	// Redeliver the already-processed message; the store cursor wins, so
	// doc-b is processed instead of doc-a again.
	if err := svc.ProcessStep(context.Background(), first); err != nil {
		t.Fatalf("process redelivered step: %v", err)
	}

	got, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ProcessedCount != 2 {
		t.Fatalf("processed count = %d, want 2", got.ProcessedCount)
	}
	if got.Findings[0].DocumentID != "doc-a" || got.Findings[1].DocumentID != "doc-b" {
		t.Fatalf("redelivery duplicated or skipped a document: %+v", got.Findings)
	}
}

func TestStepAgainstTerminalRunIsDropped(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	firstMsg := q.messages[0]

	drive(t, svc, q, run.ID)

	final, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	completedAt := final.CompletedAt

	if err := svc.ProcessStep(context.Background(), firstMsg); err != nil {
		t.Fatalf("redelivered step after finalize: %v", err)
	}

	again, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if again.Status != final.Status || len(again.Findings) != len(final.Findings) {
		t.Fatalf("terminal run mutated by late step: %+v", again)
	}
	if completedAt == nil || again.CompletedAt == nil || !again.CompletedAt.Equal(*completedAt) {
		t.Fatal("completion timestamp changed")
	}
}

func TestResumeStalled(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, q := setupChain(t, client, docs)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Simulate the enqueued step being lost.
	q.messages = nil
	time.Sleep(5 * time.Millisecond)

	resumed, err := svc.ResumeStalled(context.Background(), time.Millisecond, 10)
	if err != nil {
		t.Fatalf("resume stalled: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("resumed = %d, want 1", resumed)
	}
	if len(q.messages) != 1 {
		t.Fatalf("expected one re-enqueued step, got %d", len(q.messages))
	}
	if q.messages[0].VerificationID != run.ID || q.messages[0].CurrentIndex != 0 {
		t.Fatalf("unexpected resumed message: %+v", q.messages[0])
	}

	drive(t, svc, q, run.ID)

	final, err := svc.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !final.Status.Terminal() {
		t.Fatalf("resumed run did not finish: %s", final.Status)
	}
}

func TestResumeStalledSkipsActiveRuns(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, q := setupChain(t, client, docs)

	if _, err := svc.Start(context.Background(), testApplicationID); err != nil {
		t.Fatalf("start: %v", err)
	}
	q.messages = nil

	resumed, err := svc.ResumeStalled(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatalf("resume stalled: %v", err)
	}
	if resumed != 0 {
		t.Fatalf("resumed = %d, want 0", resumed)
	}
}
