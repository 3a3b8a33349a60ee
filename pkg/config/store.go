// Package config implements the Config Store: versioned, database-backed
// registries of PipelineStep, DocumentClass, Model, OCRConfiguration,
// FeatureFlag, and SystemSetting rows, held in memory and replaced only
// when Load is called. The worker process calls Load once at startup;
// there is no TTL expiry and no background refresh.
package config

import (
	"context"
	"fmt"
)

// Source is implemented by the Job Store's repository layer to supply
// rows for (re)loading the in-memory registries. Keeping this
// interface here (rather than depending on the jobstore package)
// avoids a config<->jobstore import cycle: jobstore depends on config
// for the row types, config depends on nothing but the interface it
// declares for its own loader to consume.
type Source interface {
	ListPipelineSteps(ctx context.Context) ([]*PipelineStep, error)
	ListDocumentClasses(ctx context.Context) ([]*DocumentClass, error)
	ListModels(ctx context.Context) ([]*Model, error)
	ListFeatureFlags(ctx context.Context) ([]FeatureFlag, error)
	ListSystemSettings(ctx context.Context) ([]*SystemSetting, error)
}

// Store is the umbrella over every Config Store registry, the direct
// analogue of the teacher's Config struct in pkg/config/config.go.
type Store struct {
	Steps    *StepRegistry
	Classes  *ClassRegistry
	Models   *ModelRegistry
	Flags    *FeatureFlagRegistry
	Settings *SettingRegistry

	validator *Validator
}

// NewStore constructs an empty Store; call Load to populate it.
func NewStore() *Store {
	return &Store{
		Steps:     NewStepRegistry(),
		Classes:   NewClassRegistry(),
		Models:    NewModelRegistry(),
		Flags:     NewFeatureFlagRegistry(),
		Settings:  NewSettingRegistry(),
		validator: NewValidator(),
	}
}

// Load pulls the full row set from src, validates it as a whole, and
// atomically replaces every registry's contents. Steps already
// reserved by an in-flight job are unaffected — that job executes
// against the pipeline_config JSON snapshot captured at enqueue time,
// per §4.A; only newly enqueued jobs observe the reloaded registries.
func (s *Store) Load(ctx context.Context, src Source) error {
	steps, err := src.ListPipelineSteps(ctx)
	if err != nil {
		return fmt.Errorf("config: list pipeline steps: %w", err)
	}
	classes, err := src.ListDocumentClasses(ctx)
	if err != nil {
		return fmt.Errorf("config: list document classes: %w", err)
	}
	models, err := src.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("config: list models: %w", err)
	}
	flags, err := src.ListFeatureFlags(ctx)
	if err != nil {
		return fmt.Errorf("config: list feature flags: %w", err)
	}
	settings, err := src.ListSystemSettings(ctx)
	if err != nil {
		return fmt.Errorf("config: list system settings: %w", err)
	}

	if err := s.validator.ValidateAll(steps, classes, models); err != nil {
		return fmt.Errorf("config: validation failed, keeping previous snapshot: %w", err)
	}

	s.Steps.Replace(steps)
	s.Classes.Replace(classes)
	s.Models.Replace(models)
	s.Flags.Replace(flags)
	s.Settings.Replace(settings)
	return nil
}

// Stats summarizes registry sizes for the health endpoint, mirroring
// the teacher's cfg.Stats() convenience accessor.
type Stats struct {
	Steps    int `json:"steps"`
	Classes  int `json:"document_classes"`
	Models   int `json:"models"`
}

func (s *Store) Stats() Stats {
	return Stats{
		Steps:   len(s.Steps.All()),
		Classes: s.Classes.Len(),
		Models:  s.Models.Len(),
	}
}
