package executor

import (
	"fmt"
	"regexp"

	"github.com/arztflow/pipeline/pkg/guard"
)

// placeholderRe matches Python-style {name} placeholders. Only the
// template itself is scanned: values substituted into it, including the
// doubled braces ({{, }}) that guard.SanitizeForPrompt produces, are
// never scanned again, so escaped content passes through inert.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// sanitizeContext runs guard.SanitizeForPrompt over every value in c,
// returning a new Context (step 2 of §4.H's per-step protocol). Only
// the escaped copy is returned; the caller runs injection detection on
// the raw step input, which must see the original text, not the escaped one.
func sanitizeContext(c Context) Context {
	out := make(Context, len(c))
	for k, v := range c {
		sanitized, _ := guard.SanitizeForPrompt(v)
		out[k] = sanitized
	}
	return out
}

// substitute renders template against sanitized values, failing
// closed on any placeholder that is neither present nor in the
// known-optional set (step 3 of §4.H's per-step protocol).
func substitute(template string, values Context) (string, error) {
	var missing string
	failed := false

	rendered := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := values[name]; ok {
			return v
		}
		if optionalKeys[name] {
			return ""
		}
		failed = true
		missing = name
		return match
	})

	if failed {
		return "", fmt.Errorf("prompt_template references undefined placeholder %q", missing)
	}
	return rendered, nil
}
