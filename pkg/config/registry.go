package config

import (
	"fmt"
	"sync"
)

// ErrNotFound is returned by registry lookups that miss.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("config: %s %q not found", e.Kind, e.Key)
}

// registry is a thread-safe in-memory keyed store. Every registry in
// this package (steps, classes, models, flags, settings) is an
// instance of this generic, following the same defensive-copy
// discipline the teacher's ChainRegistry uses for its map of chains:
// reads never hand out the internal map, and GetAll always returns a
// fresh copy so callers cannot mutate shared state.
type registry[K comparable, V any] struct {
	mu   sync.RWMutex
	kind string
	data map[K]V
}

func newRegistry[K comparable, V any](kind string) *registry[K, V] {
	return &registry[K, V]{kind: kind, data: make(map[K]V)}
}

// Replace swaps the entire contents of the registry atomically. Used
// on (re)load from the Config Store.
func (r *registry[K, V]) Replace(items map[K]V) {
	cp := make(map[K]V, len(items))
	for k, v := range items {
		cp[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = cp
}

// Get returns a copy of the value for key, or ErrNotFound.
func (r *registry[K, V]) Get(key K) (V, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	if !ok {
		var zero V
		return zero, &ErrNotFound{Kind: r.kind, Key: fmt.Sprintf("%v", key)}
	}
	return v, nil
}

// GetAll returns a defensive-copy snapshot of every entry.
func (r *registry[K, V]) GetAll() map[K]V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[K]V, len(r.data))
	for k, v := range r.data {
		cp[k] = v
	}
	return cp
}

// Len reports the number of entries.
func (r *registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// StepRegistry holds PipelineStep rows keyed by ID.
type StepRegistry struct{ r *registry[int64, *PipelineStep] }

func NewStepRegistry() *StepRegistry { return &StepRegistry{r: newRegistry[int64, *PipelineStep]("pipeline_step")} }
func (s *StepRegistry) Replace(steps []*PipelineStep) {
	m := make(map[int64]*PipelineStep, len(steps))
	for _, st := range steps {
		m[st.ID] = st
	}
	s.r.Replace(m)
}
func (s *StepRegistry) Get(id int64) (*PipelineStep, error) { return s.r.Get(id) }

// All returns every registered step, enabled or not, in no particular order.
func (s *StepRegistry) All() []*PipelineStep {
	m := s.r.GetAll()
	out := make([]*PipelineStep, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// ClassRegistry holds DocumentClass rows keyed by their class_key.
type ClassRegistry struct{ r *registry[string, *DocumentClass] }

func NewClassRegistry() *ClassRegistry { return &ClassRegistry{r: newRegistry[string, *DocumentClass]("document_class")} }
func (c *ClassRegistry) Replace(classes []*DocumentClass) {
	m := make(map[string]*DocumentClass, len(classes))
	for _, dc := range classes {
		m[dc.ClassKey] = dc
	}
	c.r.Replace(m)
}
func (c *ClassRegistry) Get(classKey string) (*DocumentClass, error) { return c.r.Get(classKey) }
func (c *ClassRegistry) Len() int                                    { return c.r.Len() }

// GetAll returns every document class keyed by class_key, for the
// executor's StepSet resolution.
func (c *ClassRegistry) GetAll() map[string]*DocumentClass { return c.r.GetAll() }

// ModelRegistry holds Model rows keyed by name.
type ModelRegistry struct{ r *registry[string, *Model] }

func NewModelRegistry() *ModelRegistry { return &ModelRegistry{r: newRegistry[string, *Model]("model")} }
func (m *ModelRegistry) Replace(models []*Model) {
	mm := make(map[string]*Model, len(models))
	for _, mo := range models {
		mm[mo.Name] = mo
	}
	m.r.Replace(mm)
}
func (m *ModelRegistry) Get(name string) (*Model, error) { return m.r.Get(name) }
func (m *ModelRegistry) Len() int                        { return m.r.Len() }

// GetAll returns every model keyed by name, for the executor's StepSet
// resolution.
func (m *ModelRegistry) GetAll() map[string]*Model { return m.r.GetAll() }

// FeatureFlagRegistry holds feature flags keyed by name.
type FeatureFlagRegistry struct{ r *registry[string, bool] }

func NewFeatureFlagRegistry() *FeatureFlagRegistry {
	return &FeatureFlagRegistry{r: newRegistry[string, bool]("feature_flag")}
}
func (f *FeatureFlagRegistry) Replace(flags []FeatureFlag) {
	m := make(map[string]bool, len(flags))
	for _, fl := range flags {
		m[fl.Name] = fl.Enabled
	}
	f.r.Replace(m)
}

// Enabled reports whether the named flag is set; unknown flags default
// to false rather than erroring, since callers treat absence as "off".
func (f *FeatureFlagRegistry) Enabled(name string) bool {
	v, err := f.r.Get(name)
	if err != nil {
		return false
	}
	return v
}

// SettingRegistry holds SystemSetting rows keyed by Key.
type SettingRegistry struct{ r *registry[string, *SystemSetting] }

func NewSettingRegistry() *SettingRegistry {
	return &SettingRegistry{r: newRegistry[string, *SystemSetting]("system_setting")}
}
func (s *SettingRegistry) Replace(settings []*SystemSetting) {
	m := make(map[string]*SystemSetting, len(settings))
	for _, st := range settings {
		m[st.Key] = st
	}
	s.r.Replace(m)
}
func (s *SettingRegistry) Get(key string) (*SystemSetting, error) { return s.r.Get(key) }
