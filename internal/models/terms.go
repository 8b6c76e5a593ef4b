package models

import (
	"fmt"
	"sort"
	"strings"
)

// StructuredTerm is a structured app-ads.txt search query. At least one
// sub-field must be non-empty; all fields are normalised to lower case.
type StructuredTerm struct {
	Domain       string `json:"domain,omitempty"`
	PublisherID  string `json:"publisherId,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	TagID        string `json:"tagId,omitempty"`
}

// IsEmpty reports whether every sub-field is blank.
func (t StructuredTerm) IsEmpty() bool {
	return t.Domain == "" && t.PublisherID == "" && t.Relationship == "" && t.TagID == ""
}

// Fields returns the non-empty sub-fields in a fixed order.
func (t StructuredTerm) Fields() []string {
	var out []string
	for _, f := range []string{t.Domain, t.PublisherID, t.Relationship, t.TagID} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Label renders a stable human-readable identifier for the term.
func (t StructuredTerm) Label() string {
	return strings.Join(t.Fields(), ",")
}

// SearchTerm is a tagged variant: either a plain substring term or a
// structured tuple. Exactly one branch is set.
type SearchTerm struct {
	Plain      string          `json:"plain,omitempty"`
	Structured *StructuredTerm `json:"structured,omitempty"`
}

// IsStructured reports whether the structured branch is set.
func (t SearchTerm) IsStructured() bool { return t.Structured != nil }

// Label returns the display name used in per-term statistics.
func (t SearchTerm) Label() string {
	if t.Structured != nil {
		return t.Structured.Label()
	}
	return t.Plain
}

// NewPlainTerm validates and normalises a plain search term.
func NewPlainTerm(raw string) (SearchTerm, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return SearchTerm{}, fmt.Errorf("search term is empty")
	}
	return SearchTerm{Plain: s}, nil
}

// NewStructuredTerm validates and normalises a structured search term.
func NewStructuredTerm(raw StructuredTerm) (SearchTerm, error) {
	t := StructuredTerm{
		Domain:       strings.ToLower(strings.TrimSpace(raw.Domain)),
		PublisherID:  strings.ToLower(strings.TrimSpace(raw.PublisherID)),
		Relationship: strings.ToLower(strings.TrimSpace(raw.Relationship)),
		TagID:        strings.ToLower(strings.TrimSpace(raw.TagID)),
	}
	if t.IsEmpty() {
		return SearchTerm{}, fmt.Errorf("structured term has no fields")
	}
	return SearchTerm{Structured: &t}, nil
}

// TermsKey derives a canonical cache-key fragment from a term list. Terms are
// sorted so equivalent lists produce the same key.
func TermsKey(terms []SearchTerm) string {
	if len(terms) == 0 {
		return ""
	}
	labels := make([]string, len(terms))
	for i, t := range terms {
		labels[i] = t.Label()
	}
	sort.Strings(labels)
	return strings.Join(labels, "-")
}
