package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with the ordered
// cross-field checks the raw struct tags cannot express, mirroring
// the teacher's validator package's ValidateAll-then-sub-validators
// shape.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{v: v}
}

// ValidateAll runs struct-tag validation followed by the semantic
// checks that span multiple steps/classes/models: branching-step
// uniqueness, order uniqueness within a phase bucket, and max_tokens
// bounds against the model registry. Phase ordering itself comes from
// PhaseRank and is not checked here.
func (vd *Validator) ValidateAll(steps []*PipelineStep, classes []*DocumentClass, models []*Model) error {
	for _, s := range steps {
		if err := vd.v.Struct(s); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	for _, c := range classes {
		if err := vd.v.Struct(c); err != nil {
			return fmt.Errorf("document class %q: %w", c.ClassKey, err)
		}
	}
	for _, m := range models {
		if err := vd.v.Struct(m); err != nil {
			return fmt.Errorf("model %q: %w", m.Name, err)
		}
	}
	if err := vd.validateBranchingUniqueness(steps); err != nil {
		return err
	}
	if err := vd.validateOrderUniqueness(steps); err != nil {
		return err
	}
	if err := vd.validateMaxTokens(steps, models); err != nil {
		return err
	}
	return nil
}

func (vd *Validator) validateBranchingUniqueness(steps []*PipelineStep) error {
	count := 0
	for _, s := range steps {
		if s.Enabled && s.IsBranchingStep {
			count++
		}
	}
	if count > 1 {
		return fmt.Errorf("config: %d enabled steps marked is_branching_step, exactly one is required", count)
	}
	return nil
}

func (vd *Validator) validateOrderUniqueness(steps []*PipelineStep) error {
	type bucketKey struct {
		phaseRank int
		classID   int64
		order     int
	}
	seen := make(map[bucketKey]string)
	for _, s := range steps {
		var classID int64
		if s.DocumentClassID != nil {
			classID = *s.DocumentClassID
		}
		key := bucketKey{phaseRank: s.PhaseRank(), classID: classID, order: s.Order}
		if existing, ok := seen[key]; ok {
			return fmt.Errorf("config: steps %q and %q share order %d within the same phase bucket", existing, s.Name, s.Order)
		}
		seen[key] = s.Name
	}
	return nil
}

func (vd *Validator) validateMaxTokens(steps []*PipelineStep, models []*Model) error {
	byName := make(map[string]*Model, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	for _, s := range steps {
		m, ok := byName[s.ModelName]
		if !ok {
			continue
		}
		if s.MaxTokens > m.MaxTokens {
			return fmt.Errorf("config: step %q max_tokens=%d exceeds model %q max_tokens=%d", s.Name, s.MaxTokens, m.Name, m.MaxTokens)
		}
	}
	return nil
}
