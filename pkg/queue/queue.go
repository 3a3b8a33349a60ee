package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arztflow/pipeline/pkg/jobstore"
)

// Queue is the Priority Queue/Dispatcher. Lane membership is pure
// Redis bookkeeping (cheap to push/pop, cheap to inspect depth);
// reservation — the guarantee that exactly one worker ends up running
// a given job — is a Postgres CAS against the jobs table, not anything
// Redis-native, because the job row is the single source of truth for
// status per §5.
type Queue struct {
	rdb   *redis.Client
	store Reservable
}

// New constructs a Queue over an existing Redis client and a Job Store
// (or anything satisfying Reservable, for testing).
func New(rdb *redis.Client, store Reservable) *Queue {
	return &Queue{rdb: rdb, store: store}
}

// Enqueue pushes a job id onto the named lane. The job row must already
// be in QUEUED status (set by the caller via the Job Store) before
// Enqueue is called — Redis list membership and the Postgres status
// column are expected to agree, and a crash between the two leaves the
// job recoverable by the stale-queued sweep in pkg/cleanup.
func (q *Queue) Enqueue(ctx context.Context, lane Lane, jobID string) error {
	if err := q.rdb.LPush(ctx, lane.key(), jobID).Err(); err != nil {
		return fmt.Errorf("queue: enqueue on lane %s: %w", lane, err)
	}
	return nil
}

// pollInterval is how often Dequeue re-sweeps the lanes in priority
// order while waiting for work, short enough to keep dispatch latency
// low without hammering Redis.
const pollInterval = 50 * time.Millisecond

// Dequeue sweeps the lanes in strict priority order — draining
// LaneHighPriority before ever looking at LaneDefault, and so on —
// popping the first job it finds and atomically reserving it by
// transitioning its status QUEUED→RUNNING. If nothing is available it
// polls until timeout elapses, then returns ErrEmpty. If the
// reservation loses a race (another dispatcher instance popped the
// same id, or a manual cancellation already moved the job out of
// QUEUED), ErrAlreadyReserved is returned and the caller should simply
// call Dequeue again — the job is somebody else's problem now.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, Lane, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, lane := range Lanes {
			jobID, err := q.rdb.RPop(ctx, lane.key()).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return "", "", fmt.Errorf("queue: rpop %s: %w", lane, err)
			}

			if err := q.store.TransitionStatus(ctx, jobID, jobstore.JobStatusQueued, jobstore.JobStatusRunning); err != nil {
				if errors.Is(err, jobstore.ErrCASFailed) {
					slog.Warn("queue: dequeued job lost reservation race", "job_id", jobID, "lane", lane)
					return "", "", ErrAlreadyReserved
				}
				return "", "", fmt.Errorf("queue: reserve job %s: %w", jobID, err)
			}
			return jobID, lane, nil
		}

		if time.Now().After(deadline) {
			return "", "", ErrEmpty
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Depths returns the current length of every lane, for the health
// endpoint and telemetry gauges.
func (q *Queue) Depths(ctx context.Context) (map[Lane]int64, error) {
	out := make(map[Lane]int64, len(Lanes))
	for _, l := range Lanes {
		n, err := q.rdb.LLen(ctx, l.key()).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: llen %s: %w", l, err)
		}
		out[l] = n
	}
	return out, nil
}

// Requeue pushes a job back onto a lane for retry, used by the worker
// runtime's job-level retry path (§4.G, max_job_retries).
func (q *Queue) Requeue(ctx context.Context, lane Lane, jobID string) error {
	return q.Enqueue(ctx, lane, jobID)
}
