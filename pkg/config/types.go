package config

// StopConditions defines a step's graceful early-termination behavior.
// A step carrying StopConditions is treated as classification-style by
// the executor's expected-value check (§4.H step 5): its output's
// first alphanumeric token must land in StopOnValues ∪
// AllowedContinueTokens, or the output is an OutputValidation failure
// eligible for retry. AllowedContinueTokens lists the tokens that mean
// "carry on, nothing to terminate" (e.g. a medical-validation step's
// normal "MEDIZINISCH" result) without themselves triggering Termination.
type StopConditions struct {
	StopOnValues         []string `json:"stop_on_values" validate:"omitempty,min=1,dive,required"`
	AllowedContinueTokens []string `json:"allowed_continue_tokens,omitempty"`
	TerminationReason    string   `json:"termination_reason"`
	TerminationMessage   string   `json:"termination_message"`
}

// PipelineStep is a node in the three-phase execution graph. Its
// phase bucket is computed, never stored: PostBranching=false and
// DocumentClassID=nil means pre-branch; DocumentClassID set means
// class-specific; PostBranching=true and DocumentClassID=nil means
// post-branch. Exactly one enabled step across the whole set may have
// IsBranchingStep=true.
type PipelineStep struct {
	ID                      int64            `json:"id" validate:"required"`
	Version                 int64            `json:"version" validate:"min=1"`
	Name                    string           `json:"name" validate:"required"`
	Description             string           `json:"description"`
	Order                   int              `json:"order" validate:"min=0"`
	Enabled                 bool             `json:"enabled"`
	IsBranchingStep         bool             `json:"is_branching_step"`
	PostBranching           bool             `json:"post_branching"`
	DocumentClassID         *int64           `json:"document_class_id,omitempty"`
	ModelName               string           `json:"model_name" validate:"required"`
	Temperature             float64          `json:"temperature" validate:"gte=0,lte=1"`
	MaxTokens               int              `json:"max_tokens" validate:"gt=0"`
	PromptTemplate          string           `json:"prompt_template" validate:"required"`
	SystemPrompt            string           `json:"system_prompt"`
	RequiredContextVars     []string         `json:"required_context_variables"`
	StopConditions          *StopConditions  `json:"stop_conditions,omitempty"`
	RetryOnFailure          bool             `json:"retry_on_failure"`
	MaxRetries              int              `json:"max_retries" validate:"gte=0"`
	InputSource             InputSource      `json:"input_source"`
	OutputFormat            OutputFormat     `json:"output_format" validate:"required"`
}

// PhaseRank returns the global ordering bucket for this step: 1 for
// pre-branch, 2 for class-specific, 3 for post-branch.
func (s *PipelineStep) PhaseRank() int {
	switch {
	case s.DocumentClassID != nil:
		return 2
	case s.PostBranching:
		return 3
	default:
		return 1
	}
}

// DocumentClass is a business category that routes class-specific steps.
type DocumentClass struct {
	ID          int64  `json:"id" validate:"required"`
	ClassKey    string `json:"class_key" validate:"required,uppercase"`
	DisplayName string `json:"display_name" validate:"required"`
	Enabled     bool   `json:"enabled"`
}

// Model is a registry row describing an LLM provider binding.
type Model struct {
	Name               string  `json:"name" validate:"required"`
	Provider           string  `json:"provider" validate:"required"`
	InputPricePerM     float64 `json:"input_price_per_million" validate:"gte=0"`
	OutputPricePerM    float64 `json:"output_price_per_million" validate:"gte=0"`
	MaxTokens          int     `json:"max_tokens" validate:"gt=0"`
	SupportsVision     bool    `json:"supports_vision"`
	SupportsStreaming  bool    `json:"supports_streaming"`
	RequestTimeoutSecs int     `json:"request_timeout_seconds" validate:"gt=0"`
	Active             bool    `json:"active"`
}

// OCRConfiguration is an opaque-to-the-executor snapshot carried on a
// Job's ocr_config column.
type OCRConfiguration struct {
	Engine       string `json:"engine" validate:"required"`
	LanguageHint string `json:"language_hint"`
	DPI          int    `json:"dpi" validate:"gte=0"`
}

// FeatureFlag is a boolean toggle sourced from FEATURE_FLAG_* env vars.
type FeatureFlag struct {
	Name    string `json:"name" validate:"required"`
	Enabled bool   `json:"enabled"`
}

// SystemSetting is a generic key/value row, used in particular to hold
// the reference to the symmetric encryption key (§6.5) with
// IsEncrypted flagging that the Value itself is encrypted at rest.
type SystemSetting struct {
	Key         string `json:"key" validate:"required"`
	Value       string `json:"value"`
	IsEncrypted bool   `json:"is_encrypted"`
}
