package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/patrickwarner/adscan/internal/models"
)

// csvHeader is the fixed column set of a batch export.
var csvHeader = []string{
	"bundleId",
	"storeKind",
	"success",
	"developerUrl",
	"domain",
	"appAdsExists",
	"appAdsUrl",
	"totalLines",
	"validLines",
	"directCount",
	"resellerCount",
	"searchMatches",
	"processingMethod",
	"error",
}

// resultRow renders one bundle result as a CSV row.
func resultRow(r models.ExtractionResult) []string {
	row := []string{
		r.BundleID,
		string(r.StoreKind),
		fmt.Sprintf("%t", r.Success),
		r.DeveloperURL,
		r.Domain,
		"false",
		"",
		"",
		"",
		"",
		"",
		"",
		string(r.ProcessingMethod),
		flattenError(r),
	}
	if rep := r.AppAdsTxt; rep != nil {
		row[5] = fmt.Sprintf("%t", rep.Exists)
		row[6] = rep.URL
		if a := rep.Analyzed; a != nil {
			row[7] = fmt.Sprintf("%d", a.TotalLines)
			row[8] = fmt.Sprintf("%d", a.ValidLines)
			row[9] = fmt.Sprintf("%d", a.Relationships.Direct)
			row[10] = fmt.Sprintf("%d", a.Relationships.Reseller)
		}
		if s := rep.Search; s != nil {
			count := s.Count
			if s.Truncated {
				count = s.OriginalCount
			}
			row[11] = fmt.Sprintf("%d", count)
		}
	}
	return row
}

// WriteCSV renders a batch result as CSV, one row per bundle.
func WriteCSV(w io.Writer, batch *models.BatchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range batch.Results {
		if err := cw.Write(resultRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVStreamWriter renders results as CSV rows one at a time, flushing each so
// clients see progress, and closes with a comment trailer carrying the
// processed count.
type CSVStreamWriter struct {
	w       io.Writer
	flusher interface{ Flush() }
	cw      *csv.Writer
	count   int
}

// NewCSVStreamWriter wraps the response writer. flusher may be nil.
func NewCSVStreamWriter(w io.Writer, flusher interface{ Flush() }) *CSVStreamWriter {
	return &CSVStreamWriter{w: w, flusher: flusher, cw: csv.NewWriter(w)}
}

// Header writes the column row.
func (s *CSVStreamWriter) Header() error {
	if err := s.cw.Write(csvHeader); err != nil {
		return err
	}
	return s.flush()
}

// Row writes one result.
func (s *CSVStreamWriter) Row(r models.ExtractionResult) error {
	if err := s.cw.Write(resultRow(r)); err != nil {
		return err
	}
	s.count++
	return s.flush()
}

// Trailer writes the end-of-stream marker.
func (s *CSVStreamWriter) Trailer() error {
	s.cw.Flush()
	if err := s.cw.Error(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "# totalProcessed=%d\n", s.count); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *CSVStreamWriter) flush() error {
	s.cw.Flush()
	if err := s.cw.Error(); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// flattenError folds the result error and per-store errors into one cell.
func flattenError(r models.ExtractionResult) string {
	parts := make([]string, 0, 1+len(r.StoreErrors))
	if r.Error != "" {
		parts = append(parts, r.Error)
	}
	for _, se := range r.StoreErrors {
		parts = append(parts, fmt.Sprintf("%s: %s", se.StoreKind, se.Error))
	}
	return strings.Join(parts, "; ")
}
