package models

import "strings"

// Relationship is the third field of a valid app-ads.txt record.
type Relationship string

const (
	RelationshipDirect   Relationship = "direct"
	RelationshipReseller Relationship = "reseller"
	RelationshipOther    Relationship = "other"
)

// ClassifyRelationship buckets the raw third field into direct, reseller or other.
func ClassifyRelationship(raw string) Relationship {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "direct":
		return RelationshipDirect
	case "reseller":
		return RelationshipReseller
	default:
		return RelationshipOther
	}
}

// AppAdsLine is one parsed valid record of an app-ads.txt file.
type AppAdsLine struct {
	LineNumber int      `json:"lineNumber"`
	Content    string   `json:"content"`
	Fields     []string `json:"fields"`
}

// LineError records a sample invalid line for diagnostics.
type LineError struct {
	LineNumber int    `json:"lineNumber"`
	Content    string `json:"content"`
	Reason     string `json:"reason"`
}

// RelationshipCounts breaks valid lines down by relationship field.
type RelationshipCounts struct {
	Direct   int `json:"direct"`
	Reseller int `json:"reseller"`
	Other    int `json:"other"`
}

// AppAdsAnalysis aggregates line counters for one app-ads.txt file. For every
// input line exactly one of the empty/comment/valid/invalid counters is
// incremented.
type AppAdsAnalysis struct {
	TotalLines       int                `json:"totalLines"`
	ValidLines       int                `json:"validLines"`
	CommentLines     int                `json:"commentLines"`
	EmptyLines       int                `json:"emptyLines"`
	InvalidLines     int                `json:"invalidLines"`
	UniquePublishers int                `json:"uniquePublishers"`
	Relationships    RelationshipCounts `json:"relationships"`
	SampleErrors     []LineError        `json:"sampleErrors,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// MatchedLine is a search hit inside an app-ads.txt file.
type MatchedLine struct {
	LineNumber int    `json:"lineNumber"`
	Content    string `json:"content"`
}

// TermResult carries per-term match accounting.
type TermResult struct {
	Term          string        `json:"term"`
	MatchingLines []MatchedLine `json:"matchingLines"`
	Count         int           `json:"count"`
	Truncated     bool          `json:"truncated,omitempty"`
	OriginalCount int           `json:"originalCount,omitempty"`
}

// SearchResult is the outcome of matching search terms against a file.
type SearchResult struct {
	Terms         []string      `json:"terms"`
	PerTerm       []TermResult  `json:"perTerm"`
	MatchingLines []MatchedLine `json:"matchingLines"`
	Count         int           `json:"count"`
	Truncated     bool          `json:"truncated,omitempty"`
	OriginalCount int           `json:"originalCount,omitempty"`
}

// ProcessingMethod says which analysis path handled an app-ads.txt file.
type ProcessingMethod string

const (
	ProcessingSync   ProcessingMethod = "sync"
	ProcessingWorker ProcessingMethod = "worker"
	ProcessingStream ProcessingMethod = "stream"
	ProcessingNone   ProcessingMethod = "none"
)

// AppAdsReport is the full app-ads.txt outcome for one domain.
type AppAdsReport struct {
	Exists           bool             `json:"exists"`
	URL              string           `json:"url,omitempty"`
	ContentSample    string           `json:"contentSample,omitempty"`
	ContentLength    int64            `json:"contentLength,omitempty"`
	Analyzed         *AppAdsAnalysis  `json:"analysed,omitempty"`
	Search           *SearchResult    `json:"search,omitempty"`
	FetchErrors      []string         `json:"fetchErrors,omitempty"`
	Error            string           `json:"error,omitempty"`
	ProcessingMethod ProcessingMethod `json:"processingMethod"`
}
