package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFilter_RemovesEmailAndPhone(t *testing.T) {
	f := NewLocalFilter()
	res, err := f.RemovePII(t.Context(), "Kontakt: dr.mueller@klinik.de, Tel: +49 170 1234567", "de", nil)
	require.NoError(t, err)
	assert.NotContains(t, res.CleanedText, "dr.mueller@klinik.de")
	assert.NotContains(t, res.CleanedText, "170 1234567")
	assert.True(t, res.Metadata.Degraded)
}

func TestLocalFilter_Idempotent(t *testing.T) {
	f := NewLocalFilter()
	text := "Patient erreichbar unter max@example.com oder 0170 9876543"
	once, err := f.RemovePII(t.Context(), text, "de", nil)
	require.NoError(t, err)
	twice, err := f.RemovePII(t.Context(), once.CleanedText, "de", nil)
	require.NoError(t, err)
	assert.Equal(t, once.CleanedText, twice.CleanedText)
}

func TestLocalFilter_PreservesProtectedTerms(t *testing.T) {
	f := NewLocalFilter()
	res, err := f.RemovePII(t.Context(), "Diagnose laut Dr. Schmidt: Morbus Parkinson", "de", []string{"Morbus Parkinson"})
	require.NoError(t, err)
	assert.Contains(t, res.CleanedText, "Morbus Parkinson")
}

func TestLocalFilter_CleanedLengthNeverExceedsOriginal(t *testing.T) {
	f := NewLocalFilter()
	cases := []string{
		"Kontakt: dr.mueller@klinik.de, IBAN DE89370400440532013000",
		// A short PLZ+city span is shorter than the [PLZ_CITY] placeholder.
		"12345 Ulm",
		// A bare IPv4 address is shorter than the [IP_ADDRESS] placeholder.
		"1.1.1.1",
		// A social-security-format number is shorter than [SOCIAL_SECURITY].
		"12 345678 A 901",
	}
	for _, text := range cases {
		res, err := f.RemovePII(t.Context(), text, "de", nil)
		require.NoError(t, err)
		assert.LessOrEqualf(t, len(res.CleanedText), len(text),
			"cleaned text %q exceeds original %q in length", res.CleanedText, text)
	}
}
