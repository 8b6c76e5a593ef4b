// Package appads fetches and analyses app-ads.txt files. Small files are
// parsed inline, large ones on the worker pool, and files above the stream
// threshold are scanned incrementally so the whole body never sits in memory.
package appads

import (
	"strings"

	"github.com/patrickwarner/adscan/internal/models"
)

// maxSampleErrors caps the invalid-line samples kept for diagnostics.
const maxSampleErrors = 5

// Analysis accumulates per-line counters for one app-ads.txt file. Feed it
// lines in order with Offer, then call Finish.
type Analysis struct {
	totalLines   int
	validLines   int
	commentLines int
	emptyLines   int
	invalidLines int
	relationships models.RelationshipCounts
	publishers   map[string]struct{}
	sampleErrors []models.LineError
}

// NewAnalysis returns an empty accumulator.
func NewAnalysis() *Analysis {
	return &Analysis{publishers: make(map[string]struct{})}
}

// Offer classifies one raw line. Exactly one of the empty, comment, valid or
// invalid counters is incremented per call.
func (a *Analysis) Offer(lineNumber int, raw string) {
	a.totalLines++

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		a.emptyLines++
		return
	}
	if strings.HasPrefix(trimmed, "#") {
		a.commentLines++
		return
	}

	// Inline comments are stripped before field parsing, per the ads.txt
	// record format.
	record := trimmed
	if idx := strings.Index(record, "#"); idx >= 0 {
		record = strings.TrimSpace(record[:idx])
	}
	if record == "" {
		a.emptyLines++
		return
	}

	fields := splitFields(record)
	if len(fields) < 3 {
		a.invalidLines++
		a.sampleError(lineNumber, trimmed, "fewer than 3 comma-separated fields")
		return
	}

	a.validLines++
	a.publishers[strings.ToLower(fields[0])] = struct{}{}
	switch models.ClassifyRelationship(fields[2]) {
	case models.RelationshipDirect:
		a.relationships.Direct++
	case models.RelationshipReseller:
		a.relationships.Reseller++
	default:
		a.relationships.Other++
	}
}

func (a *Analysis) sampleError(lineNumber int, content, reason string) {
	if len(a.sampleErrors) >= maxSampleErrors {
		return
	}
	if len(content) > 200 {
		content = content[:200]
	}
	a.sampleErrors = append(a.sampleErrors, models.LineError{
		LineNumber: lineNumber,
		Content:    content,
		Reason:     reason,
	})
}

// Finish assembles the final counters.
func (a *Analysis) Finish() *models.AppAdsAnalysis {
	return &models.AppAdsAnalysis{
		TotalLines:       a.totalLines,
		ValidLines:       a.validLines,
		CommentLines:     a.commentLines,
		EmptyLines:       a.emptyLines,
		InvalidLines:     a.invalidLines,
		UniquePublishers: len(a.publishers),
		Relationships:    a.relationships,
		SampleErrors:     a.sampleErrors,
	}
}

// Analyze runs the full analysis over an in-memory body.
func Analyze(content string) *models.AppAdsAnalysis {
	a := NewAnalysis()
	for i, line := range splitLines(content) {
		a.Offer(i+1, line)
	}
	return a.Finish()
}

// Search matches the terms against an in-memory body.
func Search(content string, terms []models.SearchTerm, maxMatches, maxPerTerm int) *models.SearchResult {
	m := NewMatcher(terms, maxMatches, maxPerTerm)
	if m.Empty() {
		return nil
	}
	for i, line := range splitLines(content) {
		m.Offer(i+1, line)
	}
	return m.Result()
}

func splitFields(record string) []string {
	parts := strings.Split(record, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// splitLines handles the three newline conventions seen in the wild. A final
// line terminator does not produce a trailing empty line.
func splitLines(content string) []string {
	replaced := strings.ReplaceAll(content, "\r\n", "\n")
	replaced = strings.ReplaceAll(replaced, "\r", "\n")
	lines := strings.Split(replaced, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
