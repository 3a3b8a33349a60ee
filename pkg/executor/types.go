// Package executor implements the Pipeline Executor (§4.H): the heart
// of the system. Given a job's resolved step graph and PII-cleaned OCR
// text, it computes the three-phase execution order, runs each step
// through prompt substitution, the Prompt Guard, an LLM call, output
// validation, retry, and stop-condition/branching handling, and emits
// StepExecution and AIInteractionLog records as it goes. Grounded on
// the teacher's pkg/queue/executor.go chain loop (sequential stages,
// each producing a stageResult, fail-fast on stage failure,
// cancellation checked between stages) generalized from a flat agent
// chain to the three-phase branching graph, and on
// pkg/agent/prompt/builder.go's template composition, adapted here
// into named {placeholder} substitution instead of fixed format
// strings (see DESIGN.md — no corpus library does Python-style named
// substitution, so the substitution engine itself is hand-written).
package executor

import (
	"context"
	"time"

	"github.com/arztflow/pipeline/pkg/config"
	"github.com/arztflow/pipeline/pkg/jobstore"
)

// Context is the mapping of string keys to string values the executor
// threads through step substitution, per §4.H's public contract.
// Known keys are input_text, original_text, ocr_text, target_language,
// and document_type; anything else is carried as an extra and is
// still substitutable but never set implicitly by the executor.
type Context map[string]string

// Clone returns an independent copy, so a step's sanitized view of the
// context never mutates the caller's original.
func (c Context) Clone() Context {
	cp := make(Context, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}

// optionalKeys is the known-optional placeholder set: referencing one
// of these in a prompt_template when it is absent from context
// substitutes the empty string instead of failing the step (§4.H
// step 3).
var optionalKeys = map[string]bool{
	"target_language": true,
	"document_type":   true,
}

// StepRecord summarizes one executed (or skipped/terminated) step for
// the caller-facing metadata, mirroring the teacher's stageResult.
type StepRecord struct {
	StepName     string                       `json:"step_name"`
	StepOrder    int                          `json:"step_order"`
	PhaseRank    int                          `json:"phase_rank"`
	Status       jobstore.StepExecutionStatus `json:"status"`
	DurationMs   int64                        `json:"duration_ms"`
	ModelUsed    string                       `json:"model_used,omitempty"`
	InputTokens  int                          `json:"input_tokens,omitempty"`
	OutputTokens int                          `json:"output_tokens,omitempty"`
	Cost         float64                      `json:"cost,omitempty"`
	Error        string                       `json:"error,omitempty"`
}

// Metadata carries everything the public contract promises beyond the
// final output string.
type Metadata struct {
	Terminated         bool         `json:"terminated"`
	TerminationStep    string       `json:"termination_step,omitempty"`
	TerminationReason  string       `json:"termination_reason,omitempty"`
	TerminationMessage string       `json:"termination_message,omitempty"`
	MatchedValue       string       `json:"matched_value,omitempty"`
	TotalTimeSeconds   float64      `json:"total_time_seconds"`
	StepsExecuted      []StepRecord `json:"steps_executed"`
	TotalCost          float64      `json:"total_cost"`
	TotalTokens        int64        `json:"total_tokens"`
	FailedStep         string       `json:"failed_step,omitempty"`
	FailureMessage     string       `json:"failure_message,omitempty"`
}

// Result is the executor's public-contract return value.
type Result struct {
	Success     bool
	FinalOutput string
	Metadata    Metadata
}

// StepSet bundles the config rows the executor needs to resolve a
// job's step graph: the full step list (the job's immutable
// pipeline_config snapshot, decoded — not a live registry read, per
// §4.A), the document classes keyed by class_key (disabled ones are
// ignored when branching), and the
// model registry keyed by name.
type StepSet struct {
	Steps   []*config.PipelineStep
	Classes map[string]*config.DocumentClass
	Models  map[string]*config.Model
}

// Persister is the subset of the Job Store the executor writes
// through while running. Keeping it as a narrow interface (rather
// than importing *jobstore.Store directly) mirrors queue.Reservable's
// decoupling and keeps this package unit-testable against a fake.
type Persister interface {
	CreateStepExecution(ctx context.Context, se *jobstore.StepExecution) (int64, error)
	FinishStepExecution(ctx context.Context, se *jobstore.StepExecution) error
	CreateAIInteractionLog(ctx context.Context, log *jobstore.AIInteractionLog) error
	AddCost(ctx context.Context, jobID string, costDelta float64, tokensDelta int64) error
	UpdateProgress(ctx context.Context, jobID string, percent int, currentStep string) error
	SetDocumentClass(ctx context.Context, jobID, classKey string) error
}

// nowFn and sinceFn are indirections over time.Now/time.Since so tests
// can exercise duration-dependent behavior deterministically if needed;
// production always uses the real clock.
var (
	nowFn   = time.Now
	sinceFn = time.Since
)
