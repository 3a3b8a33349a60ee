package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/queue"
)

type fakeExecutor struct {
	mu       sync.Mutex
	err      error
	calls    int
	lastCtx  context.Context
	onExecute func(ctx context.Context, jobID string)
}

func (f *fakeExecutor) Execute(ctx context.Context, jobID string) error {
	f.mu.Lock()
	f.calls++
	f.lastCtx = ctx
	f.mu.Unlock()
	if f.onExecute != nil {
		f.onExecute(ctx, jobID)
	}
	return f.err
}

type fakeRuntime struct {
	mu             sync.Mutex
	retryCounts    map[string]int
	transitions    []string
	completed      []jobstore.JobStatus
	heartbeats     int
	incrementErr   error
	transitionErr  error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{retryCounts: make(map[string]int)}
}

func (f *fakeRuntime) TransitionStatus(_ context.Context, jobID string, from, to jobstore.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.transitions = append(f.transitions, string(from)+"->"+string(to))
	return nil
}

func (f *fakeRuntime) CompleteJob(_ context.Context, _ string, status jobstore.JobStatus, _, _ string, _ []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, status)
	return nil
}

func (f *fakeRuntime) Heartbeat(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeRuntime) IncrementJobRetryCount(_ context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return 0, f.incrementErr
	}
	f.retryCounts[jobID]++
	return f.retryCounts[jobID], nil
}

type fakeDequeuer struct {
	mu       sync.Mutex
	requeued []string
}

func (f *fakeDequeuer) Dequeue(context.Context, time.Duration) (string, queue.Lane, error) {
	return "", "", queue.ErrEmpty
}

func (f *fakeDequeuer) Requeue(_ context.Context, _ queue.Lane, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, jobID)
	return nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *fakeRegistry) registerCancel(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

func (r *fakeRegistry) unregisterCancel(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.JobDeadline = time.Second
	cfg.MaxJobRetries = 1
	return cfg
}

func TestWorker_ProcessJob_Success(t *testing.T) {
	exec := &fakeExecutor{}
	runtime := newFakeRuntime()
	dq := &fakeDequeuer{}
	reg := newFakeRegistry()

	w := newWorker("w-0", "pod-a", testConfig(), dq, runtime, exec, reg)
	w.processJob(context.Background(), "job-1", queue.LaneDefault)

	require.Equal(t, 1, exec.calls)
	require.Empty(t, runtime.completed, "success shouldn't invoke the retry/fail path")
	require.Equal(t, 1, w.health().JobsProcessed)
	require.Empty(t, reg.cancels, "cancel func must be unregistered once the job finishes")
}

func TestWorker_ProcessJob_RetriesUnderBudget(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("transient: model unavailable")}
	runtime := newFakeRuntime()
	dq := &fakeDequeuer{}
	reg := newFakeRegistry()

	w := newWorker("w-0", "pod-a", testConfig(), dq, runtime, exec, reg)
	w.processJob(context.Background(), "job-2", queue.LaneDefault)

	require.Equal(t, []string{"RUNNING->QUEUED"}, runtime.transitions)
	require.Equal(t, []string{"job-2"}, dq.requeued)
	require.Empty(t, runtime.completed, "a job still within budget must not be marked FAILED")
}

func TestWorker_ProcessJob_FailsPastRetryBudget(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("transient: model unavailable")}
	runtime := newFakeRuntime()
	runtime.retryCounts["job-3"] = 1 // already used its one retry
	dq := &fakeDequeuer{}
	reg := newFakeRegistry()

	cfg := testConfig()
	cfg.MaxJobRetries = 1
	w := newWorker("w-0", "pod-a", cfg, dq, runtime, exec, reg)
	w.processJob(context.Background(), "job-3", queue.LaneDefault)

	require.Equal(t, []jobstore.JobStatus{jobstore.JobStatusFailed}, runtime.completed)
	require.Empty(t, dq.requeued)
}

func TestWorker_ProcessJob_EnforcesDeadline(t *testing.T) {
	blocked := make(chan struct{})
	exec := &fakeExecutor{
		onExecute: func(ctx context.Context, _ string) {
			<-ctx.Done()
			close(blocked)
		},
	}
	runtime := newFakeRuntime()
	dq := &fakeDequeuer{}
	reg := newFakeRegistry()

	cfg := testConfig()
	cfg.JobDeadline = 20 * time.Millisecond

	w := newWorker("w-0", "pod-a", cfg, dq, runtime, exec, reg)
	done := make(chan struct{})
	go func() {
		w.processJob(context.Background(), "job-4", queue.LaneDefault)
		close(done)
	}()

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("job context was never cancelled by its deadline")
	}
	<-done
}

func TestPool_CancelJob_StopsAnInFlightExecution(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	exec := &fakeExecutor{
		onExecute: func(ctx context.Context, _ string) {
			close(started)
			<-ctx.Done()
			close(cancelled)
		},
	}
	runtime := newFakeRuntime()
	dq := &fakeDequeuer{}

	pool := New("pod-a", testConfig(), dq, runtime, exec)
	w := newWorker("w-0", "pod-a", testConfig(), dq, runtime, exec, pool)

	go w.processJob(context.Background(), "job-5", queue.LaneDefault)

	<-started
	require.True(t, pool.CancelJob("job-5"))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("CancelJob did not cancel the job's context")
	}
}
