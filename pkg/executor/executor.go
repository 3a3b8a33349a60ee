package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arztflow/pipeline/pkg/config"
	"github.com/arztflow/pipeline/pkg/guard"
	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/llmclient"
	"github.com/arztflow/pipeline/pkg/pipelineerr"
	"github.com/arztflow/pipeline/pkg/telemetry"
)

// MaxInputTextBytes is the configurable cap on input_text named in
// §4.H's public contract — 10 MB by default.
const MaxInputTextBytes = 10 * 1024 * 1024

// Executor runs one job's step graph to completion. It is
// single-threaded within a job (§5's concurrency model); the worker
// runtime parallelizes across jobs by running one Executor.Run call
// per goroutine.
type Executor struct {
	llm     llmclient.Client
	persist Persister
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New constructs an Executor over an LLM client and a persistence
// sink. logger may be nil to use slog.Default(). metrics may be nil to
// disable Prometheus recording (unit tests typically pass nil).
func New(llm llmclient.Client, persist Persister, logger *slog.Logger, metrics *telemetry.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{llm: llm, persist: persist, logger: logger, metrics: metrics}
}

// outcome is the per-step control-flow signal the phase loop branches on.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeTerminated
	outcomeFailed
	outcomeCancelled
)

// Run implements the Pipeline Executor's public contract (§4.H):
// execute(job_id, input_text, context) → (success, final_output, metadata).
// processingID is carried only for the structured security-event log
// line's processing_id field. extCtx seeds the context the caller may
// pre-populate (target_language, and — per the "externally set
// document_type" edge case — document_type itself). The returned error
// is non-nil only when ctx is cancelled or its deadline passes, and is
// then ctx.Err(); every other failure is reported through the Result.
func (e *Executor) Run(ctx context.Context, jobID, processingID, inputText string, extCtx Context, set StepSet) (*Result, error) {
	start := nowFn()

	if inputText == "" {
		return &Result{Metadata: Metadata{FailureMessage: "input text is empty"}}, nil
	}
	if len(inputText) > MaxInputTextBytes {
		return &Result{Metadata: Metadata{FailureMessage: "input text exceeds maximum size"}}, nil
	}

	runCtx := make(Context, len(extCtx)+4)
	for k, v := range extCtx {
		runCtx[k] = v
	}
	runCtx["original_text"] = inputText
	runCtx["ocr_text"] = inputText

	rp := resolve(set.Steps)

	var (
		records    []StepRecord
		lastOutput = inputText
		totalCost  float64
		totalTok   int64
		globalOrd  int
	)

	result := &Result{Success: true}

	runBucket := func(steps []*config.PipelineStep) (outcome, error) {
		for _, step := range steps {
			globalOrd++
			out, newOutput, rec, stepErr := e.runStep(ctx, jobID, processingID, globalOrd, step, runCtx, lastOutput, set)

			if stepErr != nil {
				return outcomeFailed, stepErr
			}

			if out == outcomeCancelled {
				return out, nil
			}

			records = append(records, rec)
			totalCost += rec.Cost
			totalTok += int64(rec.InputTokens + rec.OutputTokens)

			switch out {
			case outcomeFailed:
				result.Metadata.FailedStep = step.Name
				result.Metadata.FailureMessage = rec.Error
				return out, nil
			case outcomeTerminated:
				result.Metadata.Terminated = true
				result.Metadata.TerminationStep = step.Name
				result.Metadata.TerminationReason = step.StopConditions.TerminationReason
				result.Metadata.TerminationMessage = step.StopConditions.TerminationMessage
				result.Metadata.MatchedValue = guard.FirstAlnumToken(newOutput)
				lastOutput = newOutput
				return out, nil
			default:
				lastOutput = newOutput
			}
		}
		return outcomeContinue, nil
	}

	out, err := runBucket(rp.preBranch)
	if out == outcomeContinue && err == nil {
		phase2 := rp.classSteps(runCtx["document_type"], set.Classes)
		out, err = runBucket(phase2)
	}
	if out == outcomeContinue && err == nil {
		out, err = runBucket(rp.postBranch)
	}

	result.Metadata.StepsExecuted = records
	result.Metadata.TotalCost = totalCost
	result.Metadata.TotalTokens = totalTok
	result.Metadata.TotalTimeSeconds = sinceFn(start).Seconds()
	result.FinalOutput = lastOutput

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.Success = false
			return result, err
		}
		result.Success = false
		result.Metadata.FailureMessage = err.Error()
		return result, nil
	}

	switch out {
	case outcomeFailed:
		result.Success = false
	case outcomeCancelled:
		result.Success = false
		return result, ctx.Err()
	default:
		result.Success = true
	}

	return result, nil
}

// runStep executes the per-step protocol (§4.H) for a single step:
// conditional skip, sanitize, build messages, invoke the LLM with
// retry, validate output, evaluate stop conditions, apply the
// branching side effect, and persist the StepExecution/
// AIInteractionLog records.
func (e *Executor) runStep(
	ctx context.Context,
	jobID, processingID string,
	globalOrder int,
	step *config.PipelineStep,
	runCtx Context,
	lastOutput string,
	set StepSet,
) (outcome, string, StepRecord, error) {
	rec := StepRecord{StepName: step.Name, StepOrder: globalOrder, PhaseRank: step.PhaseRank()}

	select {
	case <-ctx.Done():
		return outcomeCancelled, lastOutput, rec, nil
	default:
	}

	stepInput := lastOutput
	if step.InputSource.Default() == config.InputSourceOriginalText {
		stepInput = runCtx["original_text"]
	}

	// 1. Conditional skip (§4.H step 1).
	for _, v := range step.RequiredContextVars {
		if runCtx[v] == "" {
			rec.Status = jobstore.StepStatusSkipped
			e.persistStep(ctx, jobID, globalOrder, step, stepInput, stepInput, jobstore.StepStatusSkipped, "", "", 0, 0, 0, 0)
			return outcomeContinue, lastOutput, rec, nil
		}
	}

	model, ok := set.Models[step.ModelName]
	if !ok {
		rec.Status = jobstore.StepStatusFailed
		rec.Error = fmt.Sprintf("unknown model %q", step.ModelName)
		e.persistStep(ctx, jobID, globalOrder, step, stepInput, "", jobstore.StepStatusFailed, rec.Error, "", 0, 0, 0, 0)
		return outcomeFailed, lastOutput, rec, nil
	}
	if step.MaxTokens > model.MaxTokens {
		rec.Status = jobstore.StepStatusFailed
		rec.Error = fmt.Sprintf("step max_tokens %d exceeds model %q max_tokens %d", step.MaxTokens, model.Name, model.MaxTokens)
		e.persistStep(ctx, jobID, globalOrder, step, stepInput, "", jobstore.StepStatusFailed, rec.Error, "", 0, 0, 0, 0)
		return outcomeFailed, lastOutput, rec, nil
	}

	runCtx["input_text"] = stepInput

	// 2. Sanitize + non-blocking injection detection.
	sanitized := sanitizeContext(runCtx)
	if report := guard.DetectInjection(stepInput); report.Severity != guard.SeverityNone {
		e.logger.Warn("SECURITY:PROMPT_INJECTION_DETECTED",
			"processing_id", processingID, "step", step.Name,
			"severity", report.Severity.String(), "patterns", len(report.Detections))
		if e.metrics != nil {
			for _, d := range report.Detections {
				e.metrics.RecordInjection(d.Category)
			}
		}
	}

	// 3. Build messages.
	userMessage, err := substitute(step.PromptTemplate, sanitized)
	if err != nil {
		rec.Status = jobstore.StepStatusFailed
		rec.Error = err.Error()
		e.persistStep(ctx, jobID, globalOrder, step, stepInput, "", jobstore.StepStatusFailed, rec.Error, "", 0, 0, 0, 0)
		return outcomeFailed, lastOutput, rec, nil
	}

	messages := make([]llmclient.Message, 0, 2)
	if step.SystemPrompt != "" {
		messages = append(messages, llmclient.Message{Role: llmclient.RoleSystem, Content: step.SystemPrompt})
	}
	messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: userMessage})

	stepExecID, createErr := e.persist.CreateStepExecution(ctx, &jobstore.StepExecution{
		JobID: jobID, StepName: step.Name, StepOrder: globalOrder,
		PhaseRank: step.PhaseRank(), Status: jobstore.StepStatusRunning, InputText: stepInput,
	})
	if createErr != nil {
		return outcomeFailed, lastOutput, rec, fmt.Errorf("persist step execution: %w", createErr)
	}

	check := guard.StepOutputCheck{
		IsClassificationLike: step.StopConditions != nil,
		SystemPrompt:         step.SystemPrompt,
	}
	if step.StopConditions != nil {
		check.ExpectedValues = append(append([]string{}, step.StopConditions.StopOnValues...), step.StopConditions.AllowedContinueTokens...)
	}

	maxAttempts := 1
	if step.RetryOnFailure {
		maxAttempts += step.MaxRetries
	}

	started := nowFn()
	var (
		output       string
		inputTokens  int
		outputTokens int
		cost         float64
		lastErrMsg   string
		validated    bool
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return outcomeCancelled, lastOutput, rec, nil
		default:
		}

		timeout := time.Duration(model.RequestTimeoutSecs) * time.Second
		resp, callErr := e.llm.Complete(ctx, llmclient.CompleteRequest{
			Model: step.ModelName, Messages: messages,
			Temperature: step.Temperature, MaxTokens: step.MaxTokens, Timeout: timeout,
		})

		if callErr != nil {
			kind, _ := pipelineerr.KindOf(callErr)
			e.logInteraction(ctx, jobID, stepExecID, step.ModelName, 0, 0, 0, false, kind.String(), false)
			lastErrMsg = callErr.Error()
			if kind.Retryable() && attempt < maxAttempts {
				continue
			}
			rec.Status = jobstore.StepStatusFailed
			rec.Error = lastErrMsg
			e.finishStep(ctx, stepExecID, &rec, stepInput, "", jobstore.StepStatusFailed, lastErrMsg, "", 0, 0, 0, started)
			return outcomeFailed, lastOutput, rec, nil
		}

		inputCost := float64(resp.InputTokens) * model.InputPricePerM / 1_000_000
		outputCost := float64(resp.OutputTokens) * model.OutputPricePerM / 1_000_000
		attemptCost := inputCost + outputCost

		if guard.LengthRatioAnomaly(resp.Text, stepInput) {
			e.logger.Warn("step output length ratio anomaly", "job_id", jobID, "step", step.Name)
		}

		valid := guard.ValidateStepOutput(check, resp.Text, stepInput)
		errCode := ""
		if !valid.Valid {
			errCode = pipelineerr.KindOutputValidation.String()
		}
		e.logInteraction(ctx, jobID, stepExecID, step.ModelName, resp.InputTokens, resp.OutputTokens, attemptCost, valid.Valid, errCode, resp.Estimated)
		if cErr := e.persist.AddCost(ctx, jobID, attemptCost, int64(resp.InputTokens+resp.OutputTokens)); cErr != nil {
			e.logger.Error("failed to add job cost", "job_id", jobID, "error", cErr)
		}
		if e.metrics != nil {
			e.metrics.RecordCost(attemptCost, int64(resp.InputTokens+resp.OutputTokens))
		}
		output = resp.Text
		inputTokens = resp.InputTokens
		outputTokens = resp.OutputTokens
		cost = attemptCost

		if !valid.Valid {
			lastErrMsg = valid.Message
			if attempt < maxAttempts {
				continue
			}
			rec.Status = jobstore.StepStatusFailed
			rec.Error = lastErrMsg
			e.finishStep(ctx, stepExecID, &rec, stepInput, output, jobstore.StepStatusFailed, lastErrMsg, "", inputTokens, outputTokens, cost, started)
			return outcomeFailed, lastOutput, rec, nil
		}

		validated = true
		break
	}

	if !validated {
		rec.Status = jobstore.StepStatusFailed
		rec.Error = lastErrMsg
		e.finishStep(ctx, stepExecID, &rec, stepInput, output, jobstore.StepStatusFailed, lastErrMsg, "", inputTokens, outputTokens, cost, started)
		return outcomeFailed, lastOutput, rec, nil
	}

	rec.ModelUsed = step.ModelName
	rec.InputTokens = inputTokens
	rec.OutputTokens = outputTokens
	rec.Cost = cost

	// 7. Stop-condition evaluation (graceful termination).
	if step.StopConditions != nil && len(step.StopConditions.StopOnValues) > 0 {
		token := guard.FirstAlnumToken(output)
		if tokenMatches(token, step.StopConditions.StopOnValues) {
			rec.Status = jobstore.StepStatusTerminated
			se := &jobstore.StepExecution{
				ID: stepExecID, Status: jobstore.StepStatusTerminated,
				DurationMs: sinceFn(started).Milliseconds(), OutputText: output,
				ModelUsed: step.ModelName, InputTokens: inputTokens, OutputTokens: outputTokens, Cost: cost,
				Terminated: true, TerminationReason: step.StopConditions.TerminationReason,
				TerminationMessage: step.StopConditions.TerminationMessage, MatchedValue: token,
			}
			if err := e.persist.FinishStepExecution(ctx, se); err != nil {
				e.logger.Error("failed to finish step execution", "job_id", jobID, "error", err)
			}
			return outcomeTerminated, output, rec, nil
		}
	}

	// 8. Branching side effect.
	if step.IsBranchingStep {
		token := strings.ToUpper(guard.FirstAlnumToken(output))
		if dc, ok := set.Classes[token]; ok && dc.Enabled {
			runCtx["document_type"] = dc.ClassKey
			if err := e.persist.SetDocumentClass(ctx, jobID, dc.ClassKey); err != nil {
				e.logger.Error("failed to persist document class", "job_id", jobID, "error", err)
			}
		}
	}

	rec.Status = jobstore.StepStatusSucceeded
	e.finishStep(ctx, stepExecID, &rec, stepInput, output, jobstore.StepStatusSucceeded, "", "", inputTokens, outputTokens, cost, started)

	percent := globalOrder * 15
	if percent > 95 {
		percent = 95
	}
	if err := e.persist.UpdateProgress(ctx, jobID, percent, step.Name); err != nil {
		e.logger.Error("failed to update progress", "job_id", jobID, "error", err)
	}

	return outcomeContinue, output, rec, nil
}

func tokenMatches(token string, values []string) bool {
	for _, v := range values {
		if strings.EqualFold(v, token) {
			return true
		}
	}
	return false
}

// persistStep is a convenience for one-shot records (SKIPPED) that
// never go through the retry/LLM path.
func (e *Executor) persistStep(ctx context.Context, jobID string, order int, step *config.PipelineStep, input, output string, status jobstore.StepExecutionStatus, errMsg, model string, inTok, outTok int, cost float64, _ int) {
	id, err := e.persist.CreateStepExecution(ctx, &jobstore.StepExecution{
		JobID: jobID, StepName: step.Name, StepOrder: order, PhaseRank: step.PhaseRank(),
		Status: status, InputText: input,
	})
	if err != nil {
		e.logger.Error("failed to create step execution", "job_id", jobID, "step", step.Name, "error", err)
		return
	}
	se := &jobstore.StepExecution{
		ID: id, Status: status, OutputText: output, ErrorMessage: errMsg,
		ModelUsed: model, InputTokens: inTok, OutputTokens: outTok, Cost: cost,
	}
	if err := e.persist.FinishStepExecution(ctx, se); err != nil {
		e.logger.Error("failed to finish step execution", "job_id", jobID, "step", step.Name, "error", err)
	}
	if e.metrics != nil {
		e.metrics.RecordStep(step.Name, status, 0)
	}
}

func (e *Executor) finishStep(ctx context.Context, id int64, rec *StepRecord, _, output string, status jobstore.StepExecutionStatus, errMsg, _ string, inTok, outTok int, cost float64, started time.Time) {
	rec.DurationMs = sinceFn(started).Milliseconds()
	se := &jobstore.StepExecution{
		ID: id, Status: status, DurationMs: rec.DurationMs, OutputText: output, ErrorMessage: errMsg,
		ModelUsed: rec.ModelUsed, InputTokens: inTok, OutputTokens: outTok, Cost: cost,
	}
	if err := e.persist.FinishStepExecution(ctx, se); err != nil {
		e.logger.Error("failed to finish step execution", "step_execution_id", id, "error", err)
	}
	if e.metrics != nil {
		e.metrics.RecordStep(rec.StepName, status, float64(rec.DurationMs)/1000.0)
	}
}

func (e *Executor) logInteraction(ctx context.Context, jobID string, stepExecID int64, model string, inTok, outTok int, cost float64, success bool, errCode string, estimated bool) {
	err := e.persist.CreateAIInteractionLog(ctx, &jobstore.AIInteractionLog{
		JobID: jobID, StepExecutionID: stepExecID, Model: model,
		InputTokens: inTok, OutputTokens: outTok, Cost: cost,
		Success: success, ErrorCode: errCode, Estimated: estimated,
	})
	if err != nil {
		e.logger.Error("failed to create ai interaction log", "job_id", jobID, "error", err)
	}
}
