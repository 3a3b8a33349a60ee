package guard

import "regexp"

// Severity grades how concerning a detection pass came back.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "NONE"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Category groups related injection patterns.
type Category string

const (
	CategoryRoleManipulation    Category = "role_manipulation"
	CategoryInstructionOverride Category = "instruction_override"
	CategoryBoundaryAttack      Category = "boundary_attack"
	CategoryDataExfiltration    Category = "data_exfiltration"
	CategoryEncodingEvasion     Category = "encoding_evasion"
	CategoryFormatString        Category = "format_string"
)

// pattern is one compiled detection rule.
type pattern struct {
	category Category
	re       *regexp.Regexp
}

// patterns enumerates the 16 regex patterns across the 6 categories
// named in §4.B. Compiled once at package init.
var patterns = compilePatterns([]struct {
	category Category
	expr     string
}{
	{CategoryRoleManipulation, `(?i)you are now`},
	{CategoryRoleManipulation, `(?i)act as (a|an)\s+\w+`},
	{CategoryRoleManipulation, `(?i)pretend (to be|you are)`},
	{CategoryInstructionOverride, `(?i)ignore (all |any )?(previous|prior|above) instructions`},
	{CategoryInstructionOverride, `(?i)disregard (the |all )?(previous|prior|above)`},
	{CategoryInstructionOverride, `(?i)new instructions?:`},
	{CategoryInstructionOverride, `(?i)override (the )?system prompt`},
	{CategoryBoundaryAttack, `(?i)\[\s*/?\s*(system|assistant|user)\s*\]`},
	{CategoryBoundaryAttack, `(?i)<\s*/?\s*(system|assistant|user)\s*>`},
	{CategoryBoundaryAttack, `(?i)###\s*(system|instruction)`},
	{CategoryDataExfiltration, `(?i)output the system prompt`},
	{CategoryDataExfiltration, `(?i)repeat (the |your )?(instructions|system prompt) (verbatim|exactly)`},
	{CategoryDataExfiltration, `(?i)what (are|were) your instructions`},
	{CategoryEncodingEvasion, `(?i)base64:`},
	{CategoryEncodingEvasion, `\\u00[0-9a-fA-F]{2}`},
	{CategoryFormatString, `\{[a-zA-Z_][a-zA-Z0-9_]*\}.*\{[a-zA-Z_][a-zA-Z0-9_]*\}`},
})

func compilePatterns(defs []struct {
	category Category
	expr     string
}) []pattern {
	out := make([]pattern, 0, len(defs))
	for _, d := range defs {
		out = append(out, pattern{category: d.category, re: regexp.MustCompile(d.expr)})
	}
	return out
}

// Detection records a single matched pattern.
type Detection struct {
	Category Category
	Match    string
}

// Report is the result of running DetectInjection over a text.
type Report struct {
	Severity   Severity
	Detections []Detection
}

// DetectInjection runs every compiled pattern against text and scores
// the overall severity. Detection is always non-blocking — callers
// log the report and proceed regardless of severity.
func DetectInjection(text string) Report {
	var detections []Detection
	boosted := false
	for _, p := range patterns {
		if m := p.re.FindString(text); m != "" {
			detections = append(detections, Detection{Category: p.category, Match: m})
			if p.category == CategoryDataExfiltration || p.category == CategoryFormatString {
				boosted = true
			}
		}
	}

	n := len(detections)
	var sev Severity
	switch {
	case n == 0:
		sev = SeverityNone
	case n == 1:
		sev = SeverityLow
	case n <= 3:
		sev = SeverityMedium
	default:
		sev = SeverityHigh
	}
	if boosted && sev < SeverityMedium {
		sev = SeverityMedium
	}

	return Report{Severity: sev, Detections: detections}
}
