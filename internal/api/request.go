package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/patrickwarner/adscan/internal/models"
)

// extractRequest is the decoded body shared by the extract, batch and CSV
// endpoints. searchTerms arrives in several historical shapes, so it is kept
// raw and normalised separately.
type extractRequest struct {
	BundleID         string                  `json:"bundleId"`
	BundleIDs        []string                `json:"bundleIds"`
	SearchTerms      json.RawMessage         `json:"searchTerms"`
	StructuredParams []models.StructuredTerm `json:"structuredParams"`
	Page             int                     `json:"page"`
	PageSize         int                     `json:"pageSize"`
	FullAnalysis     bool                    `json:"fullAnalysis"`
}

// decodeRequest reads and parses the JSON body under the configured size cap.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*extractRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodyBytes)

	var req extractRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return &req, nil
}

// decodeJSON decodes an arbitrary JSON body with the size-cap error folded in.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// terms normalises the searchTerms field plus structuredParams into the tagged
// term list. Accepted shapes for searchTerms: a comma-separated string, an
// array of strings, or an array mixing strings and structured objects.
func (req *extractRequest) terms() ([]models.SearchTerm, error) {
	var out []models.SearchTerm

	if len(req.SearchTerms) > 0 && string(req.SearchTerms) != "null" {
		parsed, err := parseSearchTerms(req.SearchTerms)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed...)
	}

	for _, st := range req.StructuredParams {
		term, err := models.NewStructuredTerm(st)
		if err != nil {
			return nil, fmt.Errorf("structuredParams: %w", err)
		}
		out = append(out, term)
	}
	return out, nil
}

func parseSearchTerms(raw json.RawMessage) ([]models.SearchTerm, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return splitPlainTerms(single)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("searchTerms must be a string or an array")
	}

	var out []models.SearchTerm
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			term, err := models.NewPlainTerm(str)
			if err != nil {
				return nil, fmt.Errorf("searchTerms: %w", err)
			}
			out = append(out, term)
			continue
		}

		var structured models.StructuredTerm
		if err := json.Unmarshal(item, &structured); err != nil {
			return nil, fmt.Errorf("searchTerms entries must be strings or term objects")
		}
		term, err := models.NewStructuredTerm(structured)
		if err != nil {
			return nil, fmt.Errorf("searchTerms: %w", err)
		}
		out = append(out, term)
	}
	return out, nil
}

// splitPlainTerms turns a comma-separated query string into plain terms.
// Blank segments are dropped rather than rejected.
func splitPlainTerms(s string) ([]models.SearchTerm, error) {
	var out []models.SearchTerm
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		term, err := models.NewPlainTerm(part)
		if err != nil {
			return nil, err
		}
		out = append(out, term)
	}
	return out, nil
}

// clampPageSize applies the documented bounds: at least 5, at most the
// configured maximum, defaulting to 20.
func (s *Server) clampPageSize(requested int) int {
	if requested == 0 {
		requested = 20
	}
	if requested < 5 {
		return 5
	}
	if requested > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return requested
}
