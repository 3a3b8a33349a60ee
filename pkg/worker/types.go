// Package worker implements the Worker Runtime (§4.G): a pool of
// goroutines that dequeue jobs from the Priority Queue, run them
// through an Executor under a per-job deadline, heartbeat their
// progress, and apply the job-level retry policy on failure. Grounded
// on the teacher's pkg/queue/worker.go poll loop (jittered interval,
// heartbeat goroutine, graceful shutdown) and pkg/queue/pool.go (pool
// lifecycle, health aggregation), generalized from session processing
// to pipeline job processing.
package worker

import (
	"context"
	"errors"
	"time"
)

// ErrMaxRetriesExceeded is returned by the retry policy when a job has
// already exhausted max_job_retries and must be marked FAILED instead
// of requeued.
var ErrMaxRetriesExceeded = errors.New("worker: job retry budget exhausted")

// Executor runs a single job to completion: it loads the job, decodes
// its pipeline_config snapshot, drives the Pipeline Executor, and
// persists the terminal outcome — COMPLETED, TERMINATED, or FAILED —
// itself, including the job's deadline/cancellation handling via the
// context the pool passes in. A non-nil return means only "this job
// is eligible for the job-level transient-transport retry in §4.G";
// every other outcome is fully handled internally and returns nil.
// Implemented by cmd/pipelineworker, which wires a concrete
// *executor.Executor, *jobstore.Store, and *config.Store together;
// kept as an interface here so pkg/worker never imports pkg/executor
// or pkg/config.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Status is a worker's current activity state, mirroring the teacher's
// WorkerStatus.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Health reports one worker's state for the ambient health endpoint.
type Health struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}

// PoolHealth aggregates every worker's Health with total and active
// worker counts; it carries no queue-level stats.
type PoolHealth struct {
	TotalWorkers  int      `json:"total_workers"`
	ActiveWorkers int      `json:"active_workers"`
	Workers       []Health `json:"workers"`
}
