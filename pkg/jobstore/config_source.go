package jobstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arztflow/pipeline/pkg/config"
)

// configSource adapts Store's raw SQL access to config.Source, letting
// the Config Store reload its registries from Postgres without either
// package importing the other's concrete types in a cycle.
type configSource struct {
	store *Store
}

// ConfigSource returns a config.Source backed by this Store.
func (s *Store) ConfigSource() config.Source {
	return &configSource{store: s}
}

func (c *configSource) ListPipelineSteps(ctx context.Context) ([]*config.PipelineStep, error) {
	rows, err := c.store.pool.Query(ctx, `
		SELECT id, version, name, description, step_order, enabled, is_branching_step,
			post_branching, document_class_id, model_name, temperature, max_tokens,
			prompt_template, system_prompt, required_context_variables, stop_conditions,
			retry_on_failure, max_retries, input_source, output_format
		FROM pipeline_steps ORDER BY step_order ASC`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list pipeline steps: %w", err)
	}
	defer rows.Close()

	var out []*config.PipelineStep
	for rows.Next() {
		st := &config.PipelineStep{}
		var requiredVars, stopConditions []byte
		if err := rows.Scan(
			&st.ID, &st.Version, &st.Name, &st.Description, &st.Order, &st.Enabled,
			&st.IsBranchingStep, &st.PostBranching, &st.DocumentClassID, &st.ModelName,
			&st.Temperature, &st.MaxTokens, &st.PromptTemplate, &st.SystemPrompt,
			&requiredVars, &stopConditions, &st.RetryOnFailure, &st.MaxRetries,
			&st.InputSource, &st.OutputFormat,
		); err != nil {
			return nil, err
		}
		if len(requiredVars) > 0 {
			if err := json.Unmarshal(requiredVars, &st.RequiredContextVars); err != nil {
				return nil, fmt.Errorf("jobstore: decode required_context_variables for step %d: %w", st.ID, err)
			}
		}
		if len(stopConditions) > 0 {
			sc := &config.StopConditions{}
			if err := json.Unmarshal(stopConditions, sc); err != nil {
				return nil, fmt.Errorf("jobstore: decode stop_conditions for step %d: %w", st.ID, err)
			}
			st.StopConditions = sc
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (c *configSource) ListDocumentClasses(ctx context.Context) ([]*config.DocumentClass, error) {
	rows, err := c.store.pool.Query(ctx, `SELECT id, class_key, display_name, enabled FROM document_classes`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list document classes: %w", err)
	}
	defer rows.Close()

	var out []*config.DocumentClass
	for rows.Next() {
		dc := &config.DocumentClass{}
		if err := rows.Scan(&dc.ID, &dc.ClassKey, &dc.DisplayName, &dc.Enabled); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (c *configSource) ListModels(ctx context.Context) ([]*config.Model, error) {
	rows, err := c.store.pool.Query(ctx, `
		SELECT name, provider, input_price_per_million, output_price_per_million,
			max_tokens, supports_vision, supports_streaming, request_timeout_seconds, active
		FROM models`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list models: %w", err)
	}
	defer rows.Close()

	var out []*config.Model
	for rows.Next() {
		m := &config.Model{}
		if err := rows.Scan(
			&m.Name, &m.Provider, &m.InputPricePerM, &m.OutputPricePerM, &m.MaxTokens,
			&m.SupportsVision, &m.SupportsStreaming, &m.RequestTimeoutSecs, &m.Active,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *configSource) ListFeatureFlags(ctx context.Context) ([]config.FeatureFlag, error) {
	rows, err := c.store.pool.Query(ctx, `SELECT name, enabled FROM feature_flags`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list feature flags: %w", err)
	}
	defer rows.Close()

	var out []config.FeatureFlag
	for rows.Next() {
		var f config.FeatureFlag
		if err := rows.Scan(&f.Name, &f.Enabled); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (c *configSource) ListSystemSettings(ctx context.Context) ([]*config.SystemSetting, error) {
	rows, err := c.store.pool.Query(ctx, `SELECT key, value, is_encrypted FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list system settings: %w", err)
	}
	defer rows.Close()

	var out []*config.SystemSetting
	for rows.Next() {
		s := &config.SystemSetting{}
		if err := rows.Scan(&s.Key, &s.Value, &s.IsEncrypted); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
