package privacy

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// localPattern pairs a compiled regex with the placeholder it maps to.
// Order matters: more specific patterns (email, IBAN) run before the
// broader numeric patterns so they aren't swallowed by a broader match.
type localPattern struct {
	placeholder string
	re          *regexp.Regexp
}

var localPatterns = []localPattern{
	{"[EMAIL]", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"[IBAN]", regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`)},
	{"[PHONE]", regexp.MustCompile(`(?:\+49|\b0)[\s\-0-9]{7,}\d\b`)},
	{"[URL]", regexp.MustCompile(`https?://[^\s]+`)},
	{"[DATE]", regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`)},
	{"[PLZ_CITY]", regexp.MustCompile(`\b\d{5}\s+[A-ZÄÖÜ][a-zäöüß\-]+\b`)},
	{"[SOCIAL_SECURITY]", regexp.MustCompile(`\b\d{2}\s?\d{6}\s?[A-Z]\s?\d{3}\b`)},
	{"[TAX_ID]", regexp.MustCompile(`\b\d{2}\s?\d{3}\s?\d{3}\s?\d{3}\b`)},
	{"[IP_ADDRESS]", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// LocalFilter is a regex-only, best-effort PII remover used when the
// remote Privacy Filter service is unreachable (§4.D fallback). It
// never contacts the network.
type LocalFilter struct{}

func NewLocalFilter() *LocalFilter { return &LocalFilter{} }

// RemovePII implements Client. Fully deterministic and idempotent:
// running it twice on its own output changes nothing, because every
// pattern's replacement text is a bracketed placeholder that no
// pattern itself matches.
func (f *LocalFilter) RemovePII(ctx context.Context, text, language string, protectedTerms []string) (*Result, error) {
	start := time.Now()
	cleaned, used := applyPatterns(text, protectedTerms)
	return &Result{
		CleanedText: cleaned,
		Metadata: Metadata{
			Degraded:         true,
			PlaceholdersUsed: used,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			LanguageUsed:     language,
		},
	}, nil
}

func applyPatterns(text string, protectedTerms []string) (string, []string) {
	// Protect whitelisted terms by temporarily swapping them for
	// sentinel tokens the patterns below cannot match, then restoring
	// them verbatim afterward.
	sentinels := make(map[string]string, len(protectedTerms))
	working := text
	for i, term := range protectedTerms {
		if term == "" {
			continue
		}
		sentinel := sentinelToken(i)
		sentinels[sentinel] = term
		working = strings.ReplaceAll(working, term, sentinel)
	}

	var used []string
	for _, p := range localPatterns {
		if !p.re.MatchString(working) {
			continue
		}
		used = append(used, p.placeholder)
		working = p.re.ReplaceAllStringFunc(working, func(match string) string {
			return boundedPlaceholder(p.placeholder, match)
		})
	}

	for sentinel, term := range sentinels {
		working = strings.ReplaceAll(working, sentinel, term)
	}

	return working, used
}

func sentinelToken(i int) string {
	return "\x00PROTECTED" + strconv.Itoa(i) + "\x00"
}

// boundedPlaceholder enforces §4.D's "cleaned length ≤ original length"
// invariant per match: a placeholder is only ever used in full when
// the span it replaces is at least as long as the placeholder itself.
// Ordinary German PII such as a five-digit PLZ plus short city name
// ("12345 Ulm", 9 chars) or a bare IPv4 address ("1.1.1.1", 7 chars)
// is shorter than its bracketed placeholder, so the placeholder is
// truncated to the matched span's length rather than left full-length,
// which would grow the text.
func boundedPlaceholder(placeholder, match string) string {
	if len(placeholder) <= len(match) {
		return placeholder
	}
	return placeholder[:len(match)]
}
