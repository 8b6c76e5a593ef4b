package appads

import (
	"context"
	"io"
	"runtime"
	"strings"

	"github.com/patrickwarner/adscan/internal/models"
)

const (
	// streamChunkSize is the read granularity of the streaming scanner.
	streamChunkSize = 64 << 10

	// pressureCheckLines is how often the scanner samples the heap.
	pressureCheckLines = 5000

	// reducedMatchCap is the retained-match ceiling applied under memory
	// pressure. Counting continues; only retained lines are trimmed.
	reducedMatchCap = 500
)

// StreamOptions tunes the streaming analysis path.
type StreamOptions struct {
	SampleBytes  int   // size of the head sample kept for the report
	MaxMatches   int
	MaxPerTerm   int
	PressureHeapMB int // heap level at which match caps are reduced; 0 disables
}

// StreamOutcome carries everything the streaming path produces.
type StreamOutcome struct {
	Analysis     *models.AppAdsAnalysis
	Search       *models.SearchResult
	Sample       string
	BytesScanned int64
}

// AnalyzeStream consumes the body incrementally: lines are reassembled across
// chunk boundaries, counters and search matching run per line, and only a head
// sample plus bounded match lists are retained. CR, LF and CRLF line endings
// are all honoured, including when a CRLF pair straddles a chunk boundary.
func AnalyzeStream(ctx context.Context, body io.Reader, terms []models.SearchTerm, opts StreamOptions) (*StreamOutcome, error) {
	analysis := NewAnalysis()
	matcher := NewMatcher(terms, opts.MaxMatches, opts.MaxPerTerm)

	var sample strings.Builder
	var residual []byte
	var total int64
	lineNo := 0
	pendingCR := false

	buf := make([]byte, streamChunkSize)

	emit := func(line string) {
		lineNo++
		analysis.Offer(lineNo, line)
		matcher.Offer(lineNo, line)
		if opts.PressureHeapMB > 0 && lineNo%pressureCheckLines == 0 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			if ms.HeapAlloc > uint64(opts.PressureHeapMB)<<20 {
				matcher.ReduceCaps(reducedMatchCap)
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			total += int64(n)

			if sample.Len() < opts.SampleBytes {
				room := opts.SampleBytes - sample.Len()
				if room > n {
					room = n
				}
				sample.Write(chunk[:room])
			}

			// A CR at the end of the previous chunk already terminated a
			// line; a leading LF here is the tail of that CRLF pair.
			if pendingCR && chunk[0] == '\n' {
				chunk = chunk[1:]
			}
			pendingCR = false

			start := 0
			for i := 0; i < len(chunk); i++ {
				c := chunk[i]
				if c != '\n' && c != '\r' {
					continue
				}
				line := string(residual) + string(chunk[start:i])
				residual = residual[:0]
				emit(line)
				if c == '\r' {
					if i+1 < len(chunk) && chunk[i+1] == '\n' {
						i++
					} else if i+1 == len(chunk) {
						pendingCR = true
					}
				}
				start = i + 1
			}
			if start < len(chunk) {
				residual = append(residual, chunk[start:]...)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	if len(residual) > 0 {
		emit(string(residual))
	}

	return &StreamOutcome{
		Analysis:     analysis.Finish(),
		Search:       matcher.Result(),
		Sample:       sample.String(),
		BytesScanned: total,
	}, nil
}
