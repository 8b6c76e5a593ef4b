package appads

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adscan/internal/models"
)

func mustPlain(t *testing.T, s string) models.SearchTerm {
	t.Helper()
	term, err := models.NewPlainTerm(s)
	require.NoError(t, err)
	return term
}

func mustStructured(t *testing.T, raw models.StructuredTerm) models.SearchTerm {
	t.Helper()
	term, err := models.NewStructuredTerm(raw)
	require.NoError(t, err)
	return term
}

func TestPlainTermsFormOneAndGroup(t *testing.T) {
	content := "google.com, pub-1, DIRECT\n" +
		"google.com, pub-2, RESELLER\n" +
		"other.net, pub-3, DIRECT\n"

	terms := []models.SearchTerm{mustPlain(t, "google"), mustPlain(t, "direct")}
	res := Search(content, terms, 1000, 1000)
	require.NotNil(t, res)

	// Only the line containing both substrings matches the group.
	assert.Equal(t, 1, res.Count)
	require.Len(t, res.MatchingLines, 1)
	assert.Equal(t, 1, res.MatchingLines[0].LineNumber)

	// Per-term accounting is independent of the group.
	require.Len(t, res.PerTerm, 2)
	assert.Equal(t, 2, res.PerTerm[0].Count) // google
	assert.Equal(t, 2, res.PerTerm[1].Count) // direct
}

func TestStructuredTermsCombineWithOr(t *testing.T) {
	content := "alpha.com, 1, DIRECT\n" +
		"beta.net, 2, RESELLER\n" +
		"gamma.org, 3, DIRECT\n"

	terms := []models.SearchTerm{
		mustStructured(t, models.StructuredTerm{Domain: "alpha.com", Relationship: "direct"}),
		mustStructured(t, models.StructuredTerm{Domain: "beta.net"}),
	}
	res := Search(content, terms, 1000, 1000)
	require.NotNil(t, res)

	// Each structured term is its own AND-group; groups OR together.
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, res.MatchingLines[0].LineNumber)
	assert.Equal(t, 2, res.MatchingLines[1].LineNumber)
}

func TestStructuredTermAllFieldsMustMatch(t *testing.T) {
	content := "alpha.com, 1, RESELLER\n"
	terms := []models.SearchTerm{
		mustStructured(t, models.StructuredTerm{Domain: "alpha.com", Relationship: "direct"}),
	}
	res := Search(content, terms, 1000, 1000)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Count)
}

func TestMatchingIsCaseInsensitive(t *testing.T) {
	res := Search("ALPHA.COM, 1, direct\n", []models.SearchTerm{mustPlain(t, "Alpha.Com")}, 1000, 1000)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Count)
}

func TestTruncationPreservesOriginalCount(t *testing.T) {
	content := ""
	for i := 0; i < 30; i++ {
		content += fmt.Sprintf("ads.example, pub-%d, DIRECT\n", i)
	}
	res := Search(content, []models.SearchTerm{mustPlain(t, "ads.example")}, 10, 5)
	require.NotNil(t, res)

	assert.True(t, res.Truncated)
	assert.Equal(t, 30, res.OriginalCount)
	assert.Len(t, res.MatchingLines, 10)

	require.Len(t, res.PerTerm, 1)
	assert.True(t, res.PerTerm[0].Truncated)
	assert.Equal(t, 30, res.PerTerm[0].OriginalCount)
	assert.Len(t, res.PerTerm[0].MatchingLines, 5)
}

func TestReduceCapsKeepsCounting(t *testing.T) {
	m := NewMatcher([]models.SearchTerm{mustPlain(t, "hit")}, 100, 100)
	for i := 1; i <= 10; i++ {
		m.Offer(i, "hit line")
	}
	m.ReduceCaps(3)
	for i := 11; i <= 20; i++ {
		m.Offer(i, "hit line")
	}

	res := m.Result()
	require.NotNil(t, res)
	assert.Len(t, res.MatchingLines, 3)
	assert.True(t, res.Truncated)
	assert.Equal(t, 20, res.OriginalCount)
}
