package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/queue"
)

// cancelRegistry is the subset of Pool a Worker uses to publish the
// cancel function for whatever job it currently holds, mirroring the
// teacher's SessionRegistry split.
type cancelRegistry interface {
	registerCancel(jobID string, cancel context.CancelFunc)
	unregisterCancel(jobID string)
}

// Worker polls the queue for one job at a time, runs it through an
// Executor under a deadline, and applies the job-level retry policy.
type Worker struct {
	id       string
	podID    string
	cfg      Config
	dequeuer Dequeuer
	runtime  JobRuntime
	executor Executor
	registry cancelRegistry

	stopCh   chan struct{}
	stopOnce sync.Once

	mu            sync.RWMutex
	status        Status
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id, podID string, cfg Config, dequeuer Dequeuer, runtime JobRuntime, exec Executor, registry cancelRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		cfg:          cfg,
		dequeuer:     dequeuer,
		runtime:      runtime,
		executor:     exec,
		registry:     registry,
		stopCh:       make(chan struct{}),
		status:       StatusIdle,
		lastActivity: time.Now(),
	}
}

// start begins the worker's polling loop in a goroutine, tracked by wg.
func (w *Worker) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.run(ctx)
	}()
}

// stop signals the worker to finish its current job and return.
func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) health() Health {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Health{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
		}

		jobID, lane, err := w.dequeuer.Dequeue(ctx, w.pollInterval())
		switch {
		case err == nil:
			w.processJob(ctx, jobID, lane)
		case errors.Is(err, queue.ErrEmpty), errors.Is(err, queue.ErrAlreadyReserved):
			// nothing to do, or lost a reservation race; loop back around.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			continue
		default:
			log.Error("dequeue failed", "error", err)
			w.sleep(time.Second)
		}
	}
}

// sleep waits for d or until stop is signalled, whichever comes first.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval applies jitter to the configured poll period so that a
// pool of workers doesn't thunder against Redis in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// processJob runs one job to completion under its deadline, handling
// heartbeat, cooperative cancellation, and the job-level retry policy
// on a transient executor failure (§4.G).
func (w *Worker) processJob(ctx context.Context, jobID string, lane queue.Lane) {
	log := slog.With("job_id", jobID, "worker_id", w.id, "lane", lane)
	log.Info("job claimed")

	w.setStatus(StatusWorking, jobID)
	defer w.setStatus(StatusIdle, "")

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobDeadline)
	defer cancel()

	w.registry.registerCancel(jobID, cancel)
	defer w.registry.unregisterCancel(jobID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, jobID)

	err := w.executor.Execute(jobCtx, jobID)
	cancelHeartbeat()

	if err != nil {
		w.retryOrFail(context.Background(), jobID, err)
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete")
}

// retryOrFail applies max_job_retries: a job under budget goes back on
// the low-priority lane for another attempt; one that has exhausted it
// is marked FAILED. ctx here is intentionally a fresh background
// context since the job's own deadline context may already be done.
func (w *Worker) retryOrFail(ctx context.Context, jobID string, cause error) {
	log := slog.With("job_id", jobID, "worker_id", w.id)

	count, err := w.runtime.IncrementJobRetryCount(ctx, jobID)
	if err != nil {
		log.Error("failed to increment job retry count, marking failed", "error", err)
		_ = w.runtime.CompleteJob(ctx, jobID, jobstore.JobStatusFailed, "", "", nil, cause.Error())
		return
	}

	if count > w.cfg.MaxJobRetries {
		log.Warn("job exhausted retry budget, marking failed", "retry_count", count, "cause", cause)
		finalErr := fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, cause)
		_ = w.runtime.CompleteJob(ctx, jobID, jobstore.JobStatusFailed, "", "", nil, finalErr.Error())
		return
	}

	if err := w.runtime.TransitionStatus(ctx, jobID, jobstore.JobStatusRunning, jobstore.JobStatusQueued); err != nil {
		log.Error("failed to requeue job for retry, marking failed", "error", err)
		_ = w.runtime.CompleteJob(ctx, jobID, jobstore.JobStatusFailed, "", "", nil, cause.Error())
		return
	}

	if err := w.dequeuer.Requeue(ctx, queue.LaneLowPriority, jobID); err != nil {
		log.Error("failed to push retried job back onto queue", "error", err)
		return
	}

	log.Info("job requeued for retry", "retry_count", count, "cause", cause)
}

func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runtime.Heartbeat(ctx, jobID); err != nil {
				slog.Warn("heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *Worker) setStatus(status Status, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
