package guard

import (
	"fmt"
	"strings"
	"unicode"
)

// DetectPromptLeakage reports whether any 4-word window of
// systemPrompt (when it has at least 5 words) appears verbatim in
// output.
func DetectPromptLeakage(output, systemPrompt string) bool {
	words := strings.Fields(systemPrompt)
	if len(words) < 5 {
		return false
	}
	for i := 0; i+4 <= len(words); i++ {
		window := strings.Join(words[i:i+4], " ")
		if strings.Contains(output, window) {
			return true
		}
	}
	return false
}

// firstAlnumToken extracts the first alphanumeric token from s,
// lower-cased, per the spec's resolution of the "first word" ambiguity
// in favor of alphanumeric-token splitting rather than whitespace
// splitting. Underscore counts as part of the token (not a separator):
// class keys and stop-condition values such as "NICHT_MEDIZINISCH" are
// single tokens that must survive intact.
func firstAlnumToken(s string) string {
	var b strings.Builder
	started := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			started = true
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if started {
			break
		}
	}
	return b.String()
}

// FirstAlnumToken is the exported form, used by the branching step and
// stop-condition logic in the executor.
func FirstAlnumToken(s string) string { return firstAlnumToken(s) }

// ValidationResult is the outcome of ValidateStepOutput.
type ValidationResult struct {
	Valid   bool
	Message string
}

// StepOutputCheck bundles the inputs ValidateStepOutput needs from a
// step definition without importing the config package, keeping guard
// dependency-free of the rest of the module.
type StepOutputCheck struct {
	ExpectedValues      []string // stop_on_values ∪ allowed continuation tokens, lower-cased comparison
	IsClassificationLike bool
	SystemPrompt        string
}

// ValidateStepOutput composes the empty-output, expected-value, and
// leakage checks described in §4.B. The length-ratio warning is a
// separate call, LengthRatioAnomaly, and does not affect the result.
func ValidateStepOutput(check StepOutputCheck, output, inputText string) ValidationResult {
	if output == "" {
		return ValidationResult{Valid: false, Message: "empty output"}
	}

	if check.IsClassificationLike && len(check.ExpectedValues) > 0 {
		token := firstAlnumToken(output)
		matched := false
		for _, v := range check.ExpectedValues {
			if strings.EqualFold(v, token) {
				matched = true
				break
			}
		}
		if !matched {
			return ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("output token %q not in expected set", token),
			}
		}
	}

	// Length-ratio anomaly (output > 10x input) is a warning, not a
	// validation failure; LengthRatioAnomaly lets the caller log it
	// with processing context this package doesn't have.
	if DetectPromptLeakage(output, check.SystemPrompt) {
		return ValidationResult{Valid: false, Message: "system prompt leakage detected in output"}
	}

	return ValidationResult{Valid: true}
}

// LengthRatioAnomaly reports whether output is more than 10x longer
// than inputText — a warning condition the executor logs but never
// fails a step for.
func LengthRatioAnomaly(output, inputText string) bool {
	return len(inputText) > 0 && len(output) > 10*len(inputText)
}
