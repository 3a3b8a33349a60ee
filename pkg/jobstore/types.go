// Package jobstore implements the Job Store (§4.E): persistence for
// Job, StepExecution, and AIInteractionLog rows, with mandatory
// encryption of document payloads. Grounded on the teacher's
// pkg/database/client.go for connection/migration wiring and
// pkg/services/session_service.go for transaction/validation method
// shapes, reimplemented directly on pgx/v5 since the teacher's ent
// client has no generated code in this corpus to adapt (see
// DESIGN.md). Field layout is grounded on ent/schema/alertsession.go,
// ent/schema/stage.go, and ent/schema/llminteraction.go (status enum,
// timestamps, duration_ms, nullable error_message, JSON columns).
package jobstore

import "time"

// JobStatus is the worker runtime's job state machine (§4.G).
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
	JobStatusTimeout    JobStatus = "TIMEOUT"
	JobStatusTerminated JobStatus = "TERMINATED"
)

// Terminal reports whether status is one of the five terminal states.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout, JobStatusTerminated:
		return true
	default:
		return false
	}
}

// Job is the unit of work (§3).
type Job struct {
	JobID         string
	ProcessingID  string
	Filename      string
	FileType      string
	FileSize      int64
	FileContent   []byte // encrypted at rest; see crypto.go

	PipelineConfig []byte // JSON snapshot of the enabled step graph at enqueue time
	OCRConfig      []byte // JSON snapshot
	TargetLanguage string
	DocumentClass  string // nullable; empty means unset

	Status          JobStatus
	ProgressPercent int
	CurrentStep     string

	OriginalText    string // PII-cleaned OCR text; encrypted at rest
	SimplifiedText  string // encrypted at rest
	TranslatedText  string // encrypted at rest
	ResultData      []byte // JSON; stored as plain JSONB, not encrypted
	ErrorMessage    string

	TotalTokens int64
	TotalCost   float64

	JobRetryCount int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// StepExecutionStatus is the terminal/non-terminal state of one
// attempted step.
type StepExecutionStatus string

const (
	StepStatusPending    StepExecutionStatus = "PENDING"
	StepStatusRunning    StepExecutionStatus = "RUNNING"
	StepStatusSucceeded  StepExecutionStatus = "SUCCEEDED"
	StepStatusFailed     StepExecutionStatus = "FAILED"
	StepStatusSkipped    StepExecutionStatus = "SKIPPED"
	StepStatusTerminated StepExecutionStatus = "TERMINATED"
)

// StepExecution is one row per attempted step for a job (§3).
type StepExecution struct {
	ID          int64
	JobID       string
	StepName    string
	StepOrder   int
	PhaseRank   int
	Status      StepExecutionStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMs  int64

	InputText    string // stored in full; encrypted at rest
	OutputText   string // encrypted at rest
	ErrorMessage string

	ModelUsed    string
	InputTokens  int
	OutputTokens int
	Cost         float64

	Terminated         bool
	TerminationReason  string
	TerminationMessage string
	MatchedValue       string
}

// AIInteractionLog is per-LLM-call metadata without the text bodies (§3).
type AIInteractionLog struct {
	ID              int64
	JobID           string
	StepExecutionID int64
	Model           string
	InputTokens     int
	OutputTokens    int
	Cost            float64
	LatencyMs       int64
	Success         bool
	ErrorCode       string
	Estimated       bool
	CreatedAt       time.Time
}
