package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a disposable Postgres container, applies
// migrations, and returns a ready Store. Mirrors the teacher's
// newTestClient helper in pkg/database/client_test.go.
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cipher, err := NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	store, err := NewStore(ctx, Config{DSN: connStr}, cipher)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func testJob(jobID string) *Job {
	return &Job{
		JobID:          jobID,
		ProcessingID:   jobID + "-proc",
		Filename:       "befund.pdf",
		FileType:       "application/pdf",
		FileSize:       1024,
		FileContent:    []byte("%PDF-1.4 fake bytes"),
		PipelineConfig: []byte(`{"steps":[]}`),
		OCRConfig:      []byte(`{"engine":"tesseract"}`),
		TargetLanguage: "de",
	}
}

func TestStore_CreateAndGetJob_RoundTripsEncryptedFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.SetOriginalText(ctx, job.JobID, "Herr Müller, geboren am 1.1.1980"))

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, "Herr Müller, geboren am 1.1.1980", got.OriginalText)
	require.Equal(t, []byte("%PDF-1.4 fake bytes"), got.FileContent)
	require.Equal(t, JobStatusPending, got.Status)
}

func TestStore_TransitionStatus_OnlyOneWorkerWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-2")
	require.NoError(t, store.CreateJob(ctx, job))

	err1 := store.TransitionStatus(ctx, job.JobID, JobStatusPending, JobStatusQueued)
	require.NoError(t, err1)

	// A second concurrent attempt to perform the same transition must fail:
	// the row is no longer PENDING.
	err2 := store.TransitionStatus(ctx, job.JobID, JobStatusPending, JobStatusQueued)
	require.ErrorIs(t, err2, ErrCASFailed)

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, JobStatusQueued, got.Status)
}

func TestStore_AddCost_MatchesSumOfInteractionLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-3")
	require.NoError(t, store.CreateJob(ctx, job))

	id, err := store.CreateStepExecution(ctx, &StepExecution{
		JobID: job.JobID, StepName: "classify", StepOrder: 1, PhaseRank: 1,
		Status: StepStatusRunning, InputText: "input",
	})
	require.NoError(t, err)

	require.NoError(t, store.CreateAIInteractionLog(ctx, &AIInteractionLog{
		JobID: job.JobID, StepExecutionID: id, Model: "gpt", InputTokens: 100,
		OutputTokens: 50, Cost: 0.015, LatencyMs: 250, Success: true,
	}))
	require.NoError(t, store.AddCost(ctx, job.JobID, 0.015, 150))

	require.NoError(t, store.CreateAIInteractionLog(ctx, &AIInteractionLog{
		JobID: job.JobID, StepExecutionID: id, Model: "gpt", InputTokens: 40,
		OutputTokens: 10, Cost: 0.005, LatencyMs: 100, Success: true,
	}))
	require.NoError(t, store.AddCost(ctx, job.JobID, 0.005, 50))

	sum, err := store.SumInteractionCost(ctx, job.JobID)
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.InDelta(t, sum, got.TotalCost, 1e-9)
	require.InDelta(t, 0.02, got.TotalCost, 1e-9)
	require.Equal(t, int64(200), got.TotalTokens)
}

func TestStore_ListOrphaned_FindsStaleRunningJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-4")
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.TransitionStatus(ctx, job.JobID, JobStatusPending, JobStatusQueued))
	require.NoError(t, store.TransitionStatus(ctx, job.JobID, JobStatusQueued, JobStatusRunning))

	orphaned, err := store.ListOrphaned(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Contains(t, orphaned, job.JobID)

	notYetOrphaned, err := store.ListOrphaned(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotContains(t, notYetOrphaned, job.JobID)
}

func TestStore_ConfigSource_ReturnsSeededRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.pool.Exec(ctx, `
		INSERT INTO models (name, provider, input_price_per_million, output_price_per_million, max_tokens, request_timeout_seconds)
		VALUES ('gpt-test', 'ovh', 1.0, 2.0, 4096, 60)`)
	require.NoError(t, err)
	_, err = store.pool.Exec(ctx, `INSERT INTO feature_flags (name, enabled) VALUES ('strict_validation', true)`)
	require.NoError(t, err)

	src := store.ConfigSource()

	models, err := src.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "gpt-test", models[0].Name)

	flags, err := src.ListFeatureFlags(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.True(t, flags[0].Enabled)
}
