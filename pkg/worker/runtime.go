package worker

import (
	"context"
	"time"

	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/queue"
)

// Dequeuer is the subset of the Priority Queue a worker needs: pop the
// next job in priority order and, on a retryable failure, push it back.
// Implemented by *queue.Queue.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (jobID string, lane queue.Lane, err error)
	Requeue(ctx context.Context, lane queue.Lane, jobID string) error
}

// JobRuntime is the subset of the Job Store a worker needs to apply
// the job-level retry policy (§4.G) around an Executor call.
// Implemented by *jobstore.Store.
type JobRuntime interface {
	TransitionStatus(ctx context.Context, jobID string, from, to jobstore.JobStatus) error
	CompleteJob(ctx context.Context, jobID string, status jobstore.JobStatus, simplified, translated string, resultData []byte, errMsg string) error
	Heartbeat(ctx context.Context, jobID string) error
	IncrementJobRetryCount(ctx context.Context, jobID string) (int, error)
}
