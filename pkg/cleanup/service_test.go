package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/queue"
)

type fakeStore struct {
	mu         sync.Mutex
	orphaned   []string
	staleQueued []string
	expired    []string
	completed  map[string]jobstore.JobStatus
	deleted    []string
	heartbeats int
}

func newFakeStore() *fakeStore {
	return &fakeStore{completed: make(map[string]jobstore.JobStatus)}
}

func (f *fakeStore) ListOrphaned(context.Context, time.Time) ([]string, error) {
	return f.orphaned, nil
}

func (f *fakeStore) ListStaleQueued(context.Context, time.Time) ([]string, error) {
	return f.staleQueued, nil
}

func (f *fakeStore) ListExpired(context.Context, time.Time) ([]string, error) {
	return f.expired, nil
}

func (f *fakeStore) CompleteJob(_ context.Context, jobID string, status jobstore.JobStatus, _, _ string, _ []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[jobID] = status
	return nil
}

func (f *fakeStore) DeleteJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeStore) Heartbeat(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ queue.Lane, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func TestService_RecoverOrphans_MarksTimeout(t *testing.T) {
	store := newFakeStore()
	store.orphaned = []string{"job-1", "job-2"}
	q := &fakeEnqueuer{}

	svc := NewService(DefaultConfig(), store, q)
	svc.runAll(context.Background())

	require.Equal(t, jobstore.JobStatusTimeout, store.completed["job-1"])
	require.Equal(t, jobstore.JobStatusTimeout, store.completed["job-2"])
}

func TestService_RequeueStaleQueued_ReEnqueuesAndRefreshesTimestamp(t *testing.T) {
	store := newFakeStore()
	store.staleQueued = []string{"job-3"}
	q := &fakeEnqueuer{}

	svc := NewService(DefaultConfig(), store, q)
	svc.runAll(context.Background())

	require.Equal(t, []string{"job-3"}, q.enqueued)
	require.Equal(t, 1, store.heartbeats)
}

func TestService_PurgeExpired_DeletesTerminalJobs(t *testing.T) {
	store := newFakeStore()
	store.expired = []string{"job-4", "job-5"}
	q := &fakeEnqueuer{}

	svc := NewService(DefaultConfig(), store, q)
	svc.runAll(context.Background())

	require.ElementsMatch(t, []string{"job-4", "job-5"}, store.deleted)
}

func TestService_StartStop_RunsAtLeastOnce(t *testing.T) {
	store := newFakeStore()
	store.expired = []string{"job-6"}
	q := &fakeEnqueuer{}

	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour // only the immediate run() call should fire in this test

	svc := NewService(cfg, store, q)
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.deleted) == 1
	}, time.Second, 10*time.Millisecond)
}
