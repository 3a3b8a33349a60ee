// Package queue implements the Priority Queue/Dispatcher (§4.F): four
// named lanes backed by Redis lists, popped in strict priority order,
// with at-most-once reservation enforced as a Postgres CAS on the job
// row rather than inside Redis itself. Grounded on the teacher's
// pkg/queue/pool.go and worker.go (FOR UPDATE SKIP LOCKED claim idiom,
// worker pool lifecycle, orphan detection split into its own file)
// generalized from a single Postgres-backed FIFO to Redis-backed
// priority lanes.
package queue

import (
	"context"
	"errors"

	"github.com/arztflow/pipeline/pkg/jobstore"
)

// Lane is one of the four named priority lanes a job can be enqueued on.
type Lane string

const (
	LaneHighPriority Lane = "high_priority"
	LaneDefault      Lane = "default"
	LaneLowPriority  Lane = "low_priority"
	LaneMaintenance  Lane = "maintenance"
)

// Lanes lists every lane in strict dequeue priority order — a
// dispatcher must drain LaneHighPriority completely before considering
// LaneDefault, and so on, per §4.F.
var Lanes = []Lane{LaneHighPriority, LaneDefault, LaneLowPriority, LaneMaintenance}

func (l Lane) key() string { return "pipeline:queue:" + string(l) }

// ErrEmpty is returned by Dequeue when no lane yielded a job within the
// poll window.
var ErrEmpty = errors.New("queue: no jobs available")

// ErrAlreadyReserved is returned when a dequeued job's CAS reservation
// lost a race to another dispatcher — the job is already being handled
// and should simply be dropped from this attempt.
var ErrAlreadyReserved = errors.New("queue: job already reserved by another worker")

// Reservable is implemented by the Job Store and is the only part of
// persistence the queue package depends on, keeping the Redis lane
// bookkeeping and the Postgres locking discipline decoupled.
type Reservable interface {
	TransitionStatus(ctx context.Context, jobID string, from, to jobstore.JobStatus) error
}
