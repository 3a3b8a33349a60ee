package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config bounds a worker pool's polling and deadline behavior (§4.G,
// §5's concurrency knobs).
type Config struct {
	WorkerCount        int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	HeartbeatInterval  time.Duration
	JobDeadline        time.Duration
	MaxJobRetries      int
}

// DefaultConfig mirrors the teacher's QueueConfig defaults, rescaled
// for document-pipeline jobs instead of alert sessions.
func DefaultConfig() Config {
	return Config{
		WorkerCount:        4,
		PollInterval:       time.Second,
		PollIntervalJitter: 200 * time.Millisecond,
		HeartbeatInterval:  15 * time.Second,
		JobDeadline:        15 * time.Minute,
		MaxJobRetries:      1,
	}
}

// Pool manages a fixed set of worker goroutines plus a per-job cancel
// registry for API-triggered cancellation, grounded on the teacher's
// WorkerPool.
type Pool struct {
	podID    string
	cfg      Config
	dequeuer Dequeuer
	runtime  JobRuntime
	executor Executor

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu            sync.RWMutex
	activeCancels map[string]context.CancelFunc
}

// New constructs a Pool. dequeuer is typically a *queue.Queue, runtime
// a *jobstore.Store, and executor the cmd-layer adapter around
// *executor.Executor.
func New(podID string, cfg Config, dequeuer Dequeuer, runtime JobRuntime, exec Executor) *Pool {
	return &Pool{
		podID:         podID,
		cfg:           cfg,
		dequeuer:      dequeuer,
		runtime:       runtime,
		executor:      exec,
		stopCh:        make(chan struct{}),
		activeCancels: make(map[string]context.CancelFunc),
	}
}

// Start spawns the configured number of worker goroutines. Safe to
// call once; later calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		id := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := newWorker(id, p.podID, p.cfg, p.dequeuer, p.runtime, p.executor, p)
		p.workers = append(p.workers, w)
		w.start(ctx, &p.wg)
	}
}

// Stop signals every worker to stop and waits for in-flight jobs to
// finish (graceful shutdown) before returning.
func (p *Pool) Stop() {
	slog.Info("stopping worker pool gracefully", "pod_id", p.podID)

	for _, w := range p.workers {
		w.stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped", "pod_id", p.podID)
}

// registerCancel records a job's cancel function so CancelJob can reach it.
func (p *Pool) registerCancel(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeCancels[jobID] = cancel
}

// unregisterCancel drops a job's cancel function once it has finished.
func (p *Pool) unregisterCancel(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeCancels, jobID)
}

// CancelJob triggers cooperative cancellation for a job running on this
// pod. Returns true if the job was found here; false means it is
// either already finished or owned by a different pod.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeCancels[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports every worker's status for the ambient health endpoint.
func (p *Pool) Health() *PoolHealth {
	stats := make([]Health, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.health()
		stats[i] = h
		if h.Status == StatusWorking {
			active++
		}
	}
	return &PoolHealth{
		TotalWorkers:  len(p.workers),
		ActiveWorkers: active,
		Workers:       stats,
	}
}
