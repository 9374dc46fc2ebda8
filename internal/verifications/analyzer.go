package verifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"loancheck-backend/internal/documents"
	"loancheck-backend/internal/extract"
	"loancheck-backend/internal/llm"
	"loancheck-backend/internal/shared/storage/object"
)

// Analyzer turns one stored document into one Finding. It performs at most
// one model call per invocation; any failure is surfaced to the chain
// driver, which records it instead of retrying.
type Analyzer struct {
	DocRepo documents.DocumentsRepo
	Store   object.ObjectStore
	LLM     llm.Client
}

type analysisResponse struct {
	RiskLevel     string         `json:"riskLevel"`
	Confidence    float64        `json:"confidence"`
	Issues        []string       `json:"issues"`
	Details       string         `json:"details"`
	ExtractedData map[string]any `json:"extractedData"`
}

// Analyze fetches the document, ensures its text is extracted, runs the
// model once and parses the response. The extracted structured data is
// returned alongside the finding for the consistency pass.
func (a *Analyzer) Analyze(ctx context.Context, applicationID, documentID string) (Finding, map[string]any, error) {
	if a.DocRepo == nil || a.Store == nil {
		return Finding{}, nil, errors.New("missing document store dependencies")
	}
	if a.LLM == nil {
		return Finding{}, nil, errors.New("missing llm client")
	}

	doc, err := a.DocRepo.GetByID(ctx, applicationID, documentID)
	if err != nil {
		return Finding{}, nil, fmt.Errorf("document lookup id=%s: %w", documentID, err)
	}
	if doc.StorageKey == "" {
		return Finding{}, nil, fmt.Errorf("document %s has no stored content", documentID)
	}

	extractedKey := doc.ExtractedTextKey
	if extractedKey == "" {
		if _, err := extract.ExtractText(ctx, a.Store, doc.StorageKey, doc.MimeType, doc.FileName); err != nil {
			return Finding{}, nil, fmt.Errorf("document %s mime %s: %w", doc.ID, doc.MimeType, err)
		}
		extractedKey = doc.StorageKey + ".extracted.txt"
		if err := a.DocRepo.UpdateExtraction(ctx, doc.ApplicationID, doc.ID, extractedKey, time.Now().UTC()); err != nil {
			return Finding{}, nil, fmt.Errorf("document %s: update extraction: %w", doc.ID, err)
		}
	}

	text, err := loadText(ctx, a.Store, extractedKey)
	if err != nil {
		return Finding{}, nil, fmt.Errorf("document %s: load extracted text: %w", doc.ID, err)
	}

	raw, err := a.LLM.AnalyzeDocument(ctx, llm.AnalyzeInput{
		DocumentText: text,
		DocumentType: doc.DocType,
		FileName:     doc.FileName,
	})
	if err != nil {
		return Finding{}, nil, fmt.Errorf("llm analyze: %w", err)
	}

	var parsed analysisResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Finding{}, nil, fmt.Errorf("llm output invalid: %w", err)
	}

	riskLevel := strings.ToLower(strings.TrimSpace(parsed.RiskLevel))
	switch riskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return Finding{}, nil, fmt.Errorf("llm output invalid: unexpected risk level %q", parsed.RiskLevel)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	issues := parsed.Issues
	if issues == nil {
		issues = []string{}
	}

	finding := Finding{
		DocumentID:   doc.ID,
		DocumentType: doc.DocType,
		FileName:     doc.FileName,
		RiskLevel:    riskLevel,
		Confidence:   confidence,
		Issues:       issues,
		Details:      strings.TrimSpace(parsed.Details),
	}
	return finding, parsed.ExtractedData, nil
}

func loadText(ctx context.Context, store object.ObjectStore, key string) (string, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
