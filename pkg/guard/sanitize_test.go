package guard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeForPrompt_EscapesBraces(t *testing.T) {
	out, modified := SanitizeForPrompt("value is {x} and {{y}}")
	require.True(t, modified)
	assert.False(t, strings.Contains(out, " {x} "))
	assert.True(t, strings.Contains(out, "{{x}}"))
}

func TestSanitizeForPrompt_StripsInvisibleCharacters(t *testing.T) {
	in := "hid​den﻿ text"
	out, modified := SanitizeForPrompt(in)
	require.True(t, modified)
	for r := range invisibleRunes {
		assert.NotContains(t, out, string(r))
	}
}

func TestSanitizeForPrompt_NoBraceLeftUnescaped(t *testing.T) {
	out, _ := SanitizeForPrompt("{a}{b}{{c}}")
	// Every '{' must belong to a doubled pair: runs of '{' have even length.
	run := 0
	for i := 0; i < len(out); i++ {
		if out[i] == '{' {
			run++
			continue
		}
		assert.Equal(t, 0, run%2, "odd run of '{' before index %d", i)
		run = 0
	}
	require.Equal(t, 0, run%2, "odd run of '{' at end of output")
}
