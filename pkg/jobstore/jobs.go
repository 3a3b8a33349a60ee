package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a job_id has no matching row.
var ErrNotFound = errors.New("jobstore: job not found")

// ErrCASFailed is returned when a status transition's precondition no
// longer holds — another worker already reserved or completed the job.
var ErrCASFailed = errors.New("jobstore: status transition precondition failed")

func (s *Store) encryptOrEmpty(plain string) (string, error) {
	if s.cipher == nil {
		return plain, nil
	}
	if plain == "" {
		return "", nil
	}
	return s.cipher.EncryptString(plain)
}

func (s *Store) decryptOrEmpty(stored string) (string, error) {
	if s.cipher == nil {
		return stored, nil
	}
	return s.cipher.DecryptString(stored)
}

// CreateJob inserts a new job in PENDING status.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	content, err := s.encryptOrEmpty(string(j.FileContent))
	if err != nil {
		return fmt.Errorf("jobstore: encrypt file content: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, processing_id, filename, file_type, file_size,
			file_content, pipeline_config, ocr_config, target_language, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		j.JobID, j.ProcessingID, j.Filename, j.FileType, j.FileSize,
		content, j.PipelineConfig, j.OCRConfig, j.TargetLanguage, JobStatusPending,
	)
	if err != nil {
		return fmt.Errorf("jobstore: create job: %w", err)
	}
	return nil
}

// GetJob loads a job by id, decrypting its payload columns.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, processing_id, filename, file_type, file_size, file_content,
			pipeline_config, ocr_config, target_language, document_class,
			status, progress_percent, current_step,
			original_text, simplified_text, translated_text, result_data, error_message,
			total_tokens, total_cost, job_retry_count,
			created_at, updated_at, completed_at
		FROM jobs WHERE job_id = $1`, jobID)

	var j Job
	var content, original, simplified, translated string
	if err := row.Scan(
		&j.JobID, &j.ProcessingID, &j.Filename, &j.FileType, &j.FileSize, &content,
		&j.PipelineConfig, &j.OCRConfig, &j.TargetLanguage, &j.DocumentClass,
		&j.Status, &j.ProgressPercent, &j.CurrentStep,
		&original, &simplified, &translated, &j.ResultData, &j.ErrorMessage,
		&j.TotalTokens, &j.TotalCost, &j.JobRetryCount,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: get job: %w", err)
	}

	var err error
	if j.FileContent, err = decryptBytes(s, content); err != nil {
		return nil, err
	}
	if j.OriginalText, err = s.decryptOrEmpty(original); err != nil {
		return nil, err
	}
	if j.SimplifiedText, err = s.decryptOrEmpty(simplified); err != nil {
		return nil, err
	}
	if j.TranslatedText, err = s.decryptOrEmpty(translated); err != nil {
		return nil, err
	}
	return &j, nil
}

func decryptBytes(s *Store, stored string) ([]byte, error) {
	plain, err := s.decryptOrEmpty(stored)
	if err != nil {
		return nil, fmt.Errorf("jobstore: decrypt file content: %w", err)
	}
	return []byte(plain), nil
}

// TransitionStatus performs the CAS row update that enforces
// at-most-one worker reserving a job (§4.F, §5 locking discipline):
// the UPDATE only applies WHERE status = from, so a concurrent
// reservation attempt affects zero rows and the caller sees ErrCASFailed.
func (s *Store) TransitionStatus(ctx context.Context, jobID string, from, to JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = now()
		WHERE job_id = $2 AND status = $3`, to, jobID, from)
	if err != nil {
		return fmt.Errorf("jobstore: transition status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCASFailed
	}
	return nil
}

// CompleteJob marks a job terminal with its final outputs, recording
// completed_at.
func (s *Store) CompleteJob(ctx context.Context, jobID string, status JobStatus, simplified, translated string, resultData []byte, errMsg string) error {
	encSimplified, err := s.encryptOrEmpty(simplified)
	if err != nil {
		return err
	}
	encTranslated, err := s.encryptOrEmpty(translated)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE jobs SET status=$1, simplified_text=$2, translated_text=$3,
			result_data=$4, error_message=$5, completed_at=now(), updated_at=now()
		WHERE job_id=$6`, status, encSimplified, encTranslated, resultData, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("jobstore: complete job: %w", err)
	}
	return nil
}

// SetOriginalText persists the PII-cleaned OCR text once, immutable
// thereafter per invariant 1 in §3.
func (s *Store) SetOriginalText(ctx context.Context, jobID, text string) error {
	enc, err := s.encryptOrEmpty(text)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `UPDATE jobs SET original_text=$1, updated_at=now() WHERE job_id=$2`, enc, jobID)
	return err
}

// Heartbeat touches updated_at without changing status, the signal
// pkg/cleanup's orphan sweep relies on to distinguish a slow-but-alive
// job from a crashed worker's abandoned RUNNING row (§4.G, §4.I).
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET updated_at = now() WHERE job_id = $1`, jobID)
	return err
}

// UpdateProgress updates progress_percent/current_step, used by the
// executor as it advances through steps.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, percent int, currentStep string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET progress_percent=$1, current_step=$2, updated_at=now()
		WHERE job_id=$3`, percent, currentStep, jobID)
	return err
}

// SetDocumentClass records the branching step's classification result.
func (s *Store) SetDocumentClass(ctx context.Context, jobID, classKey string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET document_class=$1, updated_at=now() WHERE job_id=$2`, classKey, jobID)
	return err
}

// AddCost atomically increments a job's total_cost and total_tokens,
// matching the cost-accounting invariant total_cost(job) = Σ cost(AIInteractionLog).
func (s *Store) AddCost(ctx context.Context, jobID string, costDelta float64, tokensDelta int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET total_cost = total_cost + $1, total_tokens = total_tokens + $2, updated_at = now()
		WHERE job_id = $3`, costDelta, tokensDelta, jobID)
	return err
}

// IncrementJobRetryCount bumps the job-level retry counter, bounded by
// max_job_retries by the caller (the dispatcher).
func (s *Store) IncrementJobRetryCount(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET job_retry_count = job_retry_count + 1, updated_at = now()
		WHERE job_id = $1 RETURNING job_retry_count`, jobID).Scan(&count)
	return count, err
}

// ListOrphaned returns RUNNING jobs whose updated_at is older than
// deadline, for the Scheduled Maintenance orphan sweep (§4.I, §4.G).
func (s *Store) ListOrphaned(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id FROM jobs WHERE status = $1 AND updated_at < $2`,
		JobStatusRunning, olderThan)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list orphaned: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStaleQueued returns QUEUED jobs whose updated_at is older than
// olderThan: a job row can end up QUEUED with no matching Redis lane
// entry if a pod crashes between the caller's QUEUED transition and
// Queue.Enqueue's LPush, or
// if Redis itself loses the list contents. The Scheduled Maintenance
// sweep re-enqueues these (§4.I's "queued-but-unreserved task entries").
func (s *Store) ListStaleQueued(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id FROM jobs WHERE status = $1 AND updated_at < $2`,
		JobStatusQueued, olderThan)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list stale queued: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExpired returns job ids older than the retention cutoff (§6.5).
func (s *Store) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id FROM jobs WHERE created_at < $1 AND status = ANY($2)`,
		cutoff, []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout, JobStatusTerminated})
	if err != nil {
		return nil, fmt.Errorf("jobstore: list expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteJob purges a job and its StepExecution/AIInteractionLog
// children (cascade), enforcing the retention policy.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	return err
}
