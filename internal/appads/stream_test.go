package appads

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adscan/internal/models"
)

// chunkReader delivers its payload in fixed-size pieces to exercise line
// reassembly across read boundaries.
type chunkReader struct {
	data  []byte
	chunk int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestAnalyzeStreamMatchesInMemoryAnalysis(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString("network.example, pub-")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString(", DIRECT\n")
	}
	sb.WriteString("# trailing comment\n")
	sb.WriteString("bad line\n")
	content := sb.String()

	want := Analyze(content)

	for _, chunk := range []int{1, 7, 64, 4096} {
		out, err := AnalyzeStream(context.Background(), &chunkReader{data: []byte(content), chunk: chunk},
			nil, StreamOptions{SampleBytes: 1 << 20, MaxMatches: 1000, MaxPerTerm: 1000})
		require.NoError(t, err)
		assert.Equal(t, want, out.Analysis, "chunk size %d", chunk)
		assert.Equal(t, int64(len(content)), out.BytesScanned)
	}
}

func TestAnalyzeStreamCRLFAcrossChunkBoundary(t *testing.T) {
	// Chunk size 16 puts the CRLF of the first line on a boundary.
	content := "a.com,1,DIRECT\r\nb.com,2,RESELLER\r\n"
	out, err := AnalyzeStream(context.Background(), &chunkReader{data: []byte(content), chunk: 16},
		nil, StreamOptions{SampleBytes: 100, MaxMatches: 1000, MaxPerTerm: 1000})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Analysis.TotalLines)
	assert.Equal(t, 2, out.Analysis.ValidLines)
}

func TestAnalyzeStreamFinalLineWithoutNewline(t *testing.T) {
	out, err := AnalyzeStream(context.Background(),
		strings.NewReader("a.com,1,DIRECT\nb.com,2,RESELLER"),
		nil, StreamOptions{SampleBytes: 100, MaxMatches: 1000, MaxPerTerm: 1000})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Analysis.TotalLines)
	assert.Equal(t, 2, out.Analysis.ValidLines)
}

func TestAnalyzeStreamHeadSampleBounded(t *testing.T) {
	content := strings.Repeat("a.com,1,DIRECT\n", 1000)
	out, err := AnalyzeStream(context.Background(), strings.NewReader(content),
		nil, StreamOptions{SampleBytes: 128, MaxMatches: 1000, MaxPerTerm: 1000})
	require.NoError(t, err)
	assert.Len(t, out.Sample, 128)
	assert.Equal(t, content[:128], out.Sample)
}

func TestAnalyzeStreamSearchEquivalence(t *testing.T) {
	content := "google.com, pub-1, DIRECT\nother.net, pub-2, RESELLER\n"
	terms := []models.SearchTerm{mustPlain(t, "google")}

	want := Search(content, terms, 1000, 1000)
	out, err := AnalyzeStream(context.Background(), &chunkReader{data: []byte(content), chunk: 3},
		terms, StreamOptions{SampleBytes: 100, MaxMatches: 1000, MaxPerTerm: 1000})
	require.NoError(t, err)
	assert.Equal(t, want, out.Search)
}

func TestAnalyzeStreamHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AnalyzeStream(ctx, strings.NewReader("a.com,1,DIRECT\n"), nil,
		StreamOptions{SampleBytes: 100, MaxMatches: 1000, MaxPerTerm: 1000})
	assert.ErrorIs(t, err, context.Canceled)
}
