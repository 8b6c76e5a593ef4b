package models

import "time"

// ExtractionResult is the per-bundle outcome of the resolution pipeline.
type ExtractionResult struct {
	BundleID         string           `json:"bundleId"`
	StoreKind        StoreKind        `json:"storeKind"`
	Success          bool             `json:"success"`
	DeveloperURL     string           `json:"developerUrl,omitempty"`
	Domain           string           `json:"domain,omitempty"`
	AppAdsTxt        *AppAdsReport    `json:"appAdsTxt,omitempty"`
	Error            string           `json:"error,omitempty"`
	StoreErrors      []StoreError     `json:"storeErrors,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
	ProcessingMethod ProcessingMethod `json:"processingMethod"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
	CacheHit         bool             `json:"cacheHit,omitempty"`
	TermsKey         string           `json:"-"`
}

// StoreError records the failure of one store in the fallback chain.
type StoreError struct {
	StoreKind StoreKind `json:"storeKind"`
	Error     string    `json:"error"`
}

// Pagination describes the slice of a batch result being returned.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

// BatchCounts summarises per-bundle outcomes of a batch.
type BatchCounts struct {
	Success        int `json:"success"`
	Error          int `json:"error"`
	Skipped        int `json:"skipped"`
	TotalProcessed int `json:"totalProcessed"`
	AppAdsFound    int `json:"appAdsFound"`
}

// TermStat aggregates one search term across a whole batch.
type TermStat struct {
	Term          string `json:"term"`
	TotalMatches  int    `json:"totalMatches"`
	BundlesWith   int    `json:"bundlesWithMatches"`
	BundlesTotal  int    `json:"bundlesAnalysed"`
}

// SharedDomain lists bundles in a batch that resolved to the same domain.
type SharedDomain struct {
	Domain    string   `json:"domain"`
	BundleIDs []string `json:"bundleIds"`
}

// DomainAnalysis carries cross-bundle analytics for a batch.
type DomainAnalysis struct {
	SharedDomains []SharedDomain     `json:"sharedDomains"`
	Relationships RelationshipCounts `json:"relationships"`
	UniqueDomains int                `json:"uniqueDomains"`
}

// BatchResult is the complete unpaginated outcome of a multi-bundle request.
type BatchResult struct {
	Results        []ExtractionResult `json:"results"`
	Counts         BatchCounts        `json:"counts"`
	SearchStats    []TermStat         `json:"searchStats,omitempty"`
	DomainAnalysis *DomainAnalysis    `json:"domainAnalysis,omitempty"`
	CacheHitRate   float64            `json:"cacheHitRate"`
}

// Page returns the pagination header and the slice of results for the given
// 1-based page. pageSize must be positive.
func (b *BatchResult) Page(page, pageSize int) ([]ExtractionResult, Pagination) {
	total := len(b.Results)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return b.Results[start:end], Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}
