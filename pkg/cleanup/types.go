// Package cleanup implements Scheduled Maintenance (§4.I): a
// ticker-driven background service that recovers orphaned jobs,
// re-enqueues jobs stuck QUEUED with no matching lane entry, and
// purges job rows (and their result payloads) past the retention
// cutoff. Grounded on the teacher's pkg/cleanup/service.go lifecycle
// (Start/Stop/run/runAll) and pkg/queue/orphan.go's stale-heartbeat
// detection query, generalized from session soft-deletion to the hard
// job-row purge §6.5 calls for.
package cleanup

import (
	"context"
	"time"

	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/queue"
)

// Config bounds the sweep thresholds and cadence.
type Config struct {
	SweepInterval time.Duration

	// OrphanThreshold: a RUNNING job whose last heartbeat is older than
	// this is presumed crashed and is marked TIMEOUT.
	OrphanThreshold time.Duration

	// StaleQueuedThreshold: a QUEUED job whose row hasn't moved in this
	// long likely lost its Redis lane entry and is re-enqueued.
	StaleQueuedThreshold time.Duration

	// RetentionPeriod: terminal jobs older than this (by created_at)
	// are purged entirely, per data_retention_hours (§6.5).
	RetentionPeriod time.Duration
}

// DefaultConfig mirrors §6.5's defaults (24h retention) scaled down for
// the shorter-lived orphan/stale-queued windows a document pipeline
// job actually needs.
func DefaultConfig() Config {
	return Config{
		SweepInterval:        time.Minute,
		OrphanThreshold:      20 * time.Minute,
		StaleQueuedThreshold: 2 * time.Minute,
		RetentionPeriod:      24 * time.Hour,
	}
}

// Store is the subset of the Job Store the maintenance sweeps use.
// Implemented by *jobstore.Store.
type Store interface {
	ListOrphaned(ctx context.Context, olderThan time.Time) ([]string, error)
	ListStaleQueued(ctx context.Context, olderThan time.Time) ([]string, error)
	ListExpired(ctx context.Context, cutoff time.Time) ([]string, error)
	CompleteJob(ctx context.Context, jobID string, status jobstore.JobStatus, simplified, translated string, resultData []byte, errMsg string) error
	DeleteJob(ctx context.Context, jobID string) error
	Heartbeat(ctx context.Context, jobID string) error
}

// Enqueuer is the subset of the Priority Queue used to re-admit stale
// QUEUED jobs. Implemented by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane queue.Lane, jobID string) error
}
