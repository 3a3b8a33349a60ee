package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arztflow/pipeline/pkg/authctx"
	"github.com/arztflow/pipeline/pkg/config"
	"github.com/arztflow/pipeline/pkg/executor"
	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/privacy"
	"github.com/arztflow/pipeline/pkg/telemetry"
)

// jobRunner bridges the Worker Runtime's narrow worker.Executor
// interface to the concrete Job Store, Config Store, Privacy Filter
// Client, and Pipeline Executor this process wires together. It is the
// cmd-layer adapter worker.Executor's doc comment names: every outcome
// but a transient infrastructure error is fully persisted here, and
// Execute returns nil in all of those cases so the Worker Runtime never
// retries a job that already reached a terminal, persisted status.
type jobRunner struct {
	jobs    *jobstore.Store
	cfg     *config.Store
	pii     privacy.Client
	exec    *executor.Executor
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func newJobRunner(jobs *jobstore.Store, cfg *config.Store, pii privacy.Client, exec *executor.Executor, metrics *telemetry.Metrics, logger *slog.Logger) *jobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobRunner{jobs: jobs, cfg: cfg, pii: pii, exec: exec, metrics: metrics, logger: logger}
}

// Execute runs component G's loadjob -> PII removal -> Pipeline
// Executor sequence for one job (§4.G). Document text extraction
// itself (OCR) is an external collaborator's responsibility per §1;
// job.FileContent already holds the extracted text by the time a job
// reaches QUEUED.
func (r *jobRunner) Execute(ctx context.Context, jobID string) error {
	log := r.logger.With("job_id", jobID)

	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		log.Error("failed to load job", "error", err)
		return err
	}

	ctx = authctx.WithActor(ctx, authctx.Actor{ActorID: "pipelineworker", RequestID: authctx.NewRequestID()})

	extractedText := string(job.FileContent)
	if extractedText == "" {
		return r.failImmediately(jobID, "OCR produced empty text")
	}

	piiResult, err := r.pii.RemovePII(ctx, extractedText, "de", nil)
	if err != nil {
		log.Error("pii removal failed", "error", err)
		return err
	}
	if piiResult.Metadata.Degraded {
		log.Warn("privacy filter degraded to local regex fallback")
	}

	// Invariant 1: original_text is set exactly once, here, before the
	// executor ever runs.
	if err := r.jobs.SetOriginalText(ctx, jobID, piiResult.CleanedText); err != nil {
		log.Error("failed to persist cleaned text", "error", err)
		return err
	}

	var steps []*config.PipelineStep
	if err := json.Unmarshal(job.PipelineConfig, &steps); err != nil {
		return r.failImmediately(jobID, fmt.Sprintf("invalid pipeline_config snapshot: %v", err))
	}

	set := executor.StepSet{
		Steps:   steps,
		Classes: r.cfg.Classes.GetAll(),
		Models:  r.cfg.Models.GetAll(),
	}

	execCtx := executor.Context{}
	if job.TargetLanguage != "" {
		execCtx["target_language"] = job.TargetLanguage
	}

	result, runErr := r.exec.Run(ctx, jobID, job.ProcessingID, piiResult.CleanedText, execCtx, set)

	status, err := r.finish(jobID, result, runErr)
	if err != nil {
		log.Error("failed to persist job outcome", "error", err)
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordJob(status)
	}
	log.Info("job finished", "status", status)
	return nil
}

// finish maps a Run call's outcome to the job state machine (§4.G) and
// persists it. A non-nil runErr here is always context.Canceled (an
// API-triggered CancelJob) or context.DeadlineExceeded (the worker's
// per-job deadline) — Run's doc comment guarantees no other error kind
// escapes it.
func (r *jobRunner) finish(jobID string, result *executor.Result, runErr error) (jobstore.JobStatus, error) {
	bg := context.Background()
	resultData, _ := json.Marshal(result.Metadata)

	if runErr != nil {
		status := jobstore.JobStatusFailed
		errMsg := runErr.Error()
		switch {
		case errors.Is(runErr, context.DeadlineExceeded):
			status = jobstore.JobStatusTimeout
			errMsg = "job exceeded its processing deadline"
		case errors.Is(runErr, context.Canceled):
			status = jobstore.JobStatusCancelled
			errMsg = "job cancelled"
		}
		return status, r.jobs.CompleteJob(bg, jobID, status, "", "", resultData, errMsg)
	}

	if result.Success && result.Metadata.Terminated {
		return jobstore.JobStatusTerminated, r.jobs.CompleteJob(bg, jobID, jobstore.JobStatusTerminated, result.FinalOutput, "", resultData, result.Metadata.TerminationMessage)
	}
	if result.Success {
		return jobstore.JobStatusCompleted, r.jobs.CompleteJob(bg, jobID, jobstore.JobStatusCompleted, result.FinalOutput, "", resultData, "")
	}
	return jobstore.JobStatusFailed, r.jobs.CompleteJob(bg, jobID, jobstore.JobStatusFailed, "", "", resultData, result.Metadata.FailureMessage)
}

func (r *jobRunner) failImmediately(jobID, reason string) error {
	resultData, _ := json.Marshal(executor.Metadata{FailureMessage: reason})
	if err := r.jobs.CompleteJob(context.Background(), jobID, jobstore.JobStatusFailed, "", "", resultData, reason); err != nil {
		r.logger.Error("failed to persist immediate failure", "job_id", jobID, "error", err)
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordJob(jobstore.JobStatusFailed)
	}
	return nil
}
