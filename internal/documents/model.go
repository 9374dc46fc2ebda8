package documents

import "time"

// Known document types. Uploads with other values are accepted but analyzed
// with the generic prompt context.
const (
	TypeIdentityDocument = "identity_document"
	TypePaySlip          = "pay_slip"
	TypeBankStatement    = "bank_statement"
	TypeUtilityBill      = "utility_bill"
	TypeTaxReturn        = "tax_return"
)

// Document represents an uploaded document attached to a loan application.
type Document struct {
	ID               string
	ApplicationID    string
	DocType          string
	FileName         string
	MimeType         string
	SizeBytes        int64
	StorageProvider  string
	StorageKey       string
	ExtractedTextKey string
	ExtractedData    map[string]any
	ExtractedAt      *time.Time
	CreatedAt        time.Time
}
