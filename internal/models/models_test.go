package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBundleID(t *testing.T) {
	for _, ok := range []string{"com.example.app", " id123456789 ", "B0ABCDEFGH", "roku-551012"} {
		id, err := ValidateBundleID(ok)
		require.NoError(t, err, ok)
		assert.Equal(t, strings.TrimSpace(ok), id)
	}

	bad := []string{
		"",
		"   ",
		strings.Repeat("a", 101),
		`<script>alert(1)</script>`,
		"com.example;rm",
		"com.example\x00app",
		`bundle"quote`,
	}
	for _, in := range bad {
		_, err := ValidateBundleID(in)
		assert.Error(t, err, in)
	}
}

func TestTermsKeyIsOrderIndependent(t *testing.T) {
	a, err := NewPlainTerm("google.com")
	require.NoError(t, err)
	b, err := NewPlainTerm("rubicon")
	require.NoError(t, err)

	assert.Equal(t, TermsKey([]SearchTerm{a, b}), TermsKey([]SearchTerm{b, a}))
	assert.NotEqual(t, TermsKey([]SearchTerm{a}), TermsKey([]SearchTerm{a, b}))
	assert.Equal(t, "", TermsKey(nil))
}

func TestStructuredTermLabel(t *testing.T) {
	term, err := NewStructuredTerm(StructuredTerm{Domain: "Google.com", Relationship: "DIRECT"})
	require.NoError(t, err)
	assert.Equal(t, "google.com,direct", term.Label())

	_, err = NewStructuredTerm(StructuredTerm{})
	assert.Error(t, err)
}

func TestNewPlainTermNormalises(t *testing.T) {
	term, err := NewPlainTerm("  AppNexus  ")
	require.NoError(t, err)
	assert.Equal(t, "appnexus", term.Plain)

	_, err = NewPlainTerm("   ")
	assert.Error(t, err)
}

func TestBatchResultPage(t *testing.T) {
	batch := &BatchResult{Results: make([]ExtractionResult, 12)}
	for i := range batch.Results {
		batch.Results[i].BundleID = string(rune('a' + i))
	}

	results, p := batch.Page(2, 5)
	assert.Len(t, results, 5)
	assert.Equal(t, "f", results[0].BundleID)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 12, p.TotalItems)
	assert.True(t, p.HasNext)
	assert.True(t, p.HasPrev)

	// Out-of-range pages clamp rather than error.
	results, p = batch.Page(99, 5)
	assert.Len(t, results, 2)
	assert.Equal(t, 3, p.CurrentPage)

	results, p = batch.Page(0, 5)
	assert.Equal(t, 1, p.CurrentPage)
	assert.Len(t, results, 5)
}
