package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/queue"
)

// Service runs the three maintenance sweeps on a ticker. All sweeps
// are idempotent and safe to run from multiple pods concurrently: each
// is a narrow SELECT-then-act pass, and the underlying CompleteJob/
// DeleteJob calls are themselves idempotent against a job already
// moved on by another pod.
type Service struct {
	cfg   Config
	store Store
	queue Enqueuer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, q Enqueuer) *Service {
	return &Service{cfg: cfg, store: store, queue: q}
}

// Start launches the background sweep loop. Safe to call once;
// subsequent calls are no-ops.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("maintenance service started",
		"sweep_interval", s.cfg.SweepInterval,
		"orphan_threshold", s.cfg.OrphanThreshold,
		"retention_period", s.cfg.RetentionPeriod)
}

// Stop signals the loop to exit and waits for the in-flight sweep to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("maintenance service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.recoverOrphans(ctx)
	s.requeueStaleQueued(ctx)
	s.purgeExpired(ctx)
}

// recoverOrphans marks stale RUNNING jobs TIMEOUT (§4.G, §4.I).
func (s *Service) recoverOrphans(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.OrphanThreshold)
	ids, err := s.store.ListOrphaned(ctx, cutoff)
	if err != nil {
		slog.Error("maintenance: orphan scan failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	slog.Warn("maintenance: recovering orphaned jobs", "count", len(ids))

	for _, jobID := range ids {
		errMsg := "orphaned: no heartbeat since before " + cutoff.Format(time.RFC3339)
		if err := s.store.CompleteJob(ctx, jobID, jobstore.JobStatusTimeout, "", "", nil, errMsg); err != nil {
			slog.Error("maintenance: failed to recover orphaned job", "job_id", jobID, "error", err)
		}
	}
}

// requeueStaleQueued re-pushes jobs stuck QUEUED with no matching
// Redis lane entry (§4.I's "queued-but-unreserved task entries").
func (s *Service) requeueStaleQueued(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.StaleQueuedThreshold)
	ids, err := s.store.ListStaleQueued(ctx, cutoff)
	if err != nil {
		slog.Error("maintenance: stale-queued scan failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	slog.Warn("maintenance: re-enqueuing stale queued jobs", "count", len(ids))

	for _, jobID := range ids {
		if err := s.queue.Enqueue(ctx, queue.LaneLowPriority, jobID); err != nil {
			slog.Error("maintenance: failed to re-enqueue stale job", "job_id", jobID, "error", err)
			continue
		}
		if err := s.store.Heartbeat(ctx, jobID); err != nil {
			slog.Warn("maintenance: failed to refresh re-enqueued job's timestamp", "job_id", jobID, "error", err)
		}
	}
}

// purgeExpired deletes terminal jobs past the retention cutoff,
// carrying result payloads away with the row (§6.5).
func (s *Service) purgeExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.RetentionPeriod)
	ids, err := s.store.ListExpired(ctx, cutoff)
	if err != nil {
		slog.Error("maintenance: retention scan failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	slog.Info("maintenance: purging expired jobs", "count", len(ids))

	for _, jobID := range ids {
		if err := s.store.DeleteJob(ctx, jobID); err != nil {
			slog.Error("maintenance: failed to purge expired job", "job_id", jobID, "error", err)
		}
	}
}
