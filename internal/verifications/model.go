package verifications

import "time"

// KindDocumentFraudCheck tags the verification run stored per application.
// It is part of the upsert key, so one active run exists per application.
const KindDocumentFraudCheck = "document_fraud_check"

// Risk levels assigned to individual findings. RiskUnknown marks a document
// whose analysis failed, not a clean document.
const (
	RiskLow     = "low"
	RiskMedium  = "medium"
	RiskHigh    = "high"
	RiskUnknown = "unknown"
)

// Run is the progress record for one chained verification.
type Run struct {
	ID              string     `json:"id"`
	ApplicationID   string     `json:"applicationId"`
	Kind            string     `json:"kind"`
	Status          Status     `json:"status"`
	TotalDocuments  int        `json:"totalDocuments"`
	ProcessedCount  int        `json:"processedCount"`
	CurrentDocument string     `json:"currentDocument,omitempty"`
	DocumentIDs     []string   `json:"documentIds"`
	Findings        []Finding  `json:"findings"`
	Result          *Result    `json:"result,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Finding is the structured assessment for one analyzed document. Appended
// once per chain step and never mutated afterward.
type Finding struct {
	DocumentID   string   `json:"documentId"`
	DocumentType string   `json:"documentType"`
	FileName     string   `json:"fileName"`
	RiskLevel    string   `json:"riskLevel"`
	Confidence   float64  `json:"confidence"`
	Issues       []string `json:"issues"`
	Details      string   `json:"details,omitempty"`
}

// Consistency check statuses.
const (
	CheckPass = "pass"
	CheckFail = "fail"
)

// ConsistencyCheck is the outcome of one named cross-document rule.
type ConsistencyCheck struct {
	Name   string `json:"checkName"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Result is populated only once a run reaches a terminal status.
type Result struct {
	OverallRisk       string             `json:"overallRisk"`
	RiskScore         int                `json:"riskScore"`
	Findings          []Finding          `json:"findings"`
	ConsistencyChecks []ConsistencyCheck `json:"consistencyChecks"`
	CompletedAt       time.Time          `json:"completedAt"`
}
