package jobstore

import (
	"context"
	"fmt"
)

// CreateStepExecution inserts a new StepExecution row and returns its id.
func (s *Store) CreateStepExecution(ctx context.Context, se *StepExecution) (int64, error) {
	input, err := s.encryptOrEmpty(se.InputText)
	if err != nil {
		return 0, fmt.Errorf("jobstore: encrypt step input: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO step_executions (job_id, step_name, step_order, phase_rank, status, input_text)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		se.JobID, se.StepName, se.StepOrder, se.PhaseRank, se.Status, input,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("jobstore: create step execution: %w", err)
	}
	return id, nil
}

// FinishStepExecution records the terminal state of a StepExecution —
// status, output, cost/tokens, timing and optional termination metadata.
// This is the single write that closes out a step once the LLM call and
// output validation (pkg/guard) have both completed.
func (s *Store) FinishStepExecution(ctx context.Context, se *StepExecution) error {
	output, err := s.encryptOrEmpty(se.OutputText)
	if err != nil {
		return fmt.Errorf("jobstore: encrypt step output: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE step_executions SET
			status = $1, completed_at = now(), duration_ms = $2,
			output_text = $3, error_message = $4,
			model_used = $5, input_tokens = $6, output_tokens = $7, cost = $8,
			terminated = $9, termination_reason = $10, termination_message = $11, matched_value = $12
		WHERE id = $13`,
		se.Status, se.DurationMs, output, se.ErrorMessage,
		se.ModelUsed, se.InputTokens, se.OutputTokens, se.Cost,
		se.Terminated, se.TerminationReason, se.TerminationMessage, se.MatchedValue,
		se.ID,
	)
	if err != nil {
		return fmt.Errorf("jobstore: finish step execution: %w", err)
	}
	return nil
}

// ListStepExecutions returns every StepExecution for a job in step_order.
// No code in this module calls it; the executor carries prior-step
// output in memory rather than reading it back from here.
func (s *Store) ListStepExecutions(ctx context.Context, jobID string) ([]*StepExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, step_name, step_order, phase_rank, status, started_at, completed_at,
			duration_ms, input_text, output_text, error_message, model_used, input_tokens,
			output_tokens, cost, terminated, termination_reason, termination_message, matched_value
		FROM step_executions WHERE job_id = $1 ORDER BY step_order ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list step executions: %w", err)
	}
	defer rows.Close()

	var out []*StepExecution
	for rows.Next() {
		se := &StepExecution{}
		var input, output string
		if err := rows.Scan(
			&se.ID, &se.JobID, &se.StepName, &se.StepOrder, &se.PhaseRank, &se.Status,
			&se.StartedAt, &se.CompletedAt, &se.DurationMs, &input, &output,
			&se.ErrorMessage, &se.ModelUsed, &se.InputTokens, &se.OutputTokens, &se.Cost,
			&se.Terminated, &se.TerminationReason, &se.TerminationMessage, &se.MatchedValue,
		); err != nil {
			return nil, err
		}
		if se.InputText, err = s.decryptOrEmpty(input); err != nil {
			return nil, fmt.Errorf("jobstore: decrypt step input: %w", err)
		}
		if se.OutputText, err = s.decryptOrEmpty(output); err != nil {
			return nil, fmt.Errorf("jobstore: decrypt step output: %w", err)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// CreateAIInteractionLog inserts a metadata-only record of one LLM call.
// It never stores prompt or completion text, per the AIInteractionLog
// contract in §3.
func (s *Store) CreateAIInteractionLog(ctx context.Context, log *AIInteractionLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_interaction_logs
			(job_id, step_execution_id, model, input_tokens, output_tokens, cost, latency_ms, success, error_code, estimated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		log.JobID, log.StepExecutionID, log.Model, log.InputTokens, log.OutputTokens,
		log.Cost, log.LatencyMs, log.Success, log.ErrorCode, log.Estimated,
	)
	if err != nil {
		return fmt.Errorf("jobstore: create ai interaction log: %w", err)
	}
	return nil
}

// SumInteractionCost returns Σcost across all AIInteractionLog rows for a
// job, used by tests to assert the total_cost invariant against the
// jobs.total_cost running counter maintained by AddCost.
func (s *Store) SumInteractionCost(ctx context.Context, jobID string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost), 0) FROM ai_interaction_logs WHERE job_id = $1`, jobID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("jobstore: sum interaction cost: %w", err)
	}
	return total, nil
}
