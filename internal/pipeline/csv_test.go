package pipeline

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adscan/internal/models"
)

func sampleResult() models.ExtractionResult {
	return models.ExtractionResult{
		BundleID:         "com.example.app",
		StoreKind:        models.StoreGooglePlay,
		Success:          true,
		DeveloperURL:     "https://example.com",
		Domain:           "example.com",
		ProcessingMethod: models.ProcessingSync,
		AppAdsTxt: &models.AppAdsReport{
			Exists: true,
			URL:    "https://example.com/app-ads.txt",
			Analyzed: &models.AppAdsAnalysis{
				TotalLines: 10,
				ValidLines: 8,
				Relationships: models.RelationshipCounts{Direct: 5, Reseller: 3},
			},
			Search: &models.SearchResult{Count: 4},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	batch := &models.BatchResult{Results: []models.ExtractionResult{sampleResult()}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, batch))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])

	row := rows[1]
	assert.Equal(t, "com.example.app", row[0])
	assert.Equal(t, "googleplay", row[1])
	assert.Equal(t, "true", row[2])
	assert.Equal(t, "true", row[5])
	assert.Equal(t, "10", row[7])
	assert.Equal(t, "5", row[9])
	assert.Equal(t, "4", row[11])
	assert.Equal(t, "sync", row[12])
	assert.Equal(t, "", row[13])
}

func TestResultRowUsesOriginalCountWhenTruncated(t *testing.T) {
	r := sampleResult()
	r.AppAdsTxt.Search = &models.SearchResult{Count: 1000, Truncated: true, OriginalCount: 2417}

	row := resultRow(r)
	assert.Equal(t, "2417", row[11])
}

func TestResultRowWithoutReport(t *testing.T) {
	r := models.ExtractionResult{
		BundleID:         "bogus",
		StoreKind:        models.StoreUnknown,
		ProcessingMethod: models.ProcessingNone,
		Error:            "unknown bundle id format",
	}

	row := resultRow(r)
	assert.Equal(t, "false", row[2])
	assert.Equal(t, "false", row[5])
	assert.Equal(t, "", row[7])
	assert.Equal(t, "unknown bundle id format", row[13])
}

func TestFlattenErrorJoinsStoreErrors(t *testing.T) {
	r := models.ExtractionResult{
		Error: "developer url not found",
		StoreErrors: []models.StoreError{
			{StoreKind: models.StoreGooglePlay, Error: "status 404"},
			{StoreKind: models.StoreAppStore, Error: "status 404"},
		},
	}
	assert.Equal(t, "developer url not found; googleplay: status 404; appstore: status 404", flattenError(r))
}

func TestCSVStreamWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVStreamWriter(&buf, nil)

	require.NoError(t, w.Header())
	require.NoError(t, w.Row(sampleResult()))
	r2 := sampleResult()
	r2.BundleID = "id1234567890"
	require.NoError(t, w.Row(r2))
	require.NoError(t, w.Trailer())

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "bundleId,"))
	assert.True(t, strings.HasPrefix(lines[1], "com.example.app,"))
	assert.True(t, strings.HasPrefix(lines[2], "id1234567890,"))
	assert.Equal(t, "# totalProcessed=2", lines[3])
}
