// Package guard implements the Prompt Guard: sanitization, injection
// detection, leakage detection, and output validation applied around
// every LLM invocation (§4.B). Patterns are compiled once at package
// init and reused, the same resolved-pattern-cache idiom the masking
// service uses for its regex sets, adapted here to the
// prompt-injection domain instead of secret redaction.
package guard

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// invisibleRunes is the 20-character set of invisible Unicode code
// points sanitize_for_prompt strips: zero-width characters, BOM, and
// bidirectional control marks that can otherwise hide injected text
// inside an apparently ordinary string.
var invisibleRunes = map[rune]struct{}{
	'​': {}, // zero width space
	'‌': {}, // zero width non-joiner
	'‍': {}, // zero width joiner
	'‎': {}, // left-to-right mark
	'‏': {}, // right-to-left mark
	'‪': {}, // LRE
	'‫': {}, // RLE
	'‬': {}, // PDF
	'‭': {}, // LRO
	'‮': {}, // RLO
	'⁠': {}, // word joiner
	'⁡': {}, // function application
	'⁢': {}, // invisible times
	'⁣': {}, // invisible separator
	'⁤': {}, // invisible plus
	'⁦': {}, // LRI
	'⁧': {}, // RLI
	'⁨': {}, // FSI
	'⁩': {}, // PDI
	'﻿': {}, // BOM / zero width no-break space
}

type invisibleStripper struct{ transform.NopResetter }

func (invisibleStripper) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size <= 1 {
			if !atEOF && !utf8.FullRune(src[nSrc:]) {
				return nDst, nSrc, transform.ErrShortSrc
			}
			size = 1
		}
		if _, invisible := invisibleRunes[r]; invisible {
			nSrc += size
			continue
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		n := copy(dst[nDst:], src[nSrc:nSrc+size])
		nDst += n
		nSrc += size
	}
	return nDst, nSrc, nil
}

// SanitizeForPrompt escapes brace characters so they cannot be
// mistaken for template placeholders, strips the invisible-Unicode
// set, and NFKC-normalizes the result. Returns the sanitized text and
// whether anything changed.
func SanitizeForPrompt(text string) (string, bool) {
	escaped := strings.NewReplacer("{", "{{", "}", "}}").Replace(text)

	stripped, _, err := transform.String(invisibleStripper{}, escaped)
	if err != nil {
		stripped = escaped
	}

	normalized := norm.NFKC.String(stripped)

	return normalized, normalized != text
}
