// Package privacy implements the Privacy Filter Client (§4.D): removes
// PII from extracted text before it reaches any LLM call, preserving
// protected terms and medical terminology, with a local regex fallback
// when the remote service is unreachable. Grounded on the teacher's
// masking.Service fail-closed/fail-open split (pkg/masking/service.go)
// and its compiled-pattern-set idiom (pkg/masking/pattern.go), adapted
// from secret redaction to the PII domain.
package privacy

import "context"

// Metadata describes what remove_pii actually did.
type Metadata struct {
	Degraded       bool     `json:"degraded"`
	PlaceholdersUsed []string `json:"placeholders_used,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	LanguageUsed   string   `json:"language_used"`
}

// Result is the outcome of a RemovePII call.
type Result struct {
	CleanedText string
	Metadata    Metadata
}

// Client is the interface the worker runtime calls through.
type Client interface {
	RemovePII(ctx context.Context, text, language string, protectedTerms []string) (*Result, error)
}

// Placeholders is the fixed set of replacement tokens §4.D mandates.
var Placeholders = []string{
	"[NAME]", "[DOCTOR_NAME]", "[PATIENT_NAME]", "[BIRTHDATE]", "[DATE]",
	"[PHONE]", "[FAX]", "[EMAIL]", "[ADDRESS]", "[PLZ_CITY]", "[TAX_ID]",
	"[SOCIAL_SECURITY]", "[INSURANCE_ID]", "[PATIENT_ID]", "[REFERENCE_ID]",
	"[IBAN]", "[CREDIT_CARD]", "[IP_ADDRESS]", "[URL]", "[LOCATION]",
	"[ORGANIZATION]", "[TIME]",
}
