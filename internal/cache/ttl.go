package cache

import "time"

// TTLClass selects one of the fixed expiry durations for a cache write.
type TTLClass string

const (
	TTLStoreSuccess     TTLClass = "storeSuccess"
	TTLStoreError       TTLClass = "storeError"
	TTLAppAdsTxtFound   TTLClass = "appAdsTxtFound"
	TTLAppAdsTxtMissing TTLClass = "appAdsTxtMissing"
	TTLAppAdsTxtError   TTLClass = "appAdsTxtError"
	TTLAnalysisResults  TTLClass = "analysisResults"
	TTLBatchResult      TTLClass = "batchResult"
	TTLDefault          TTLClass = "default"
)

var ttlDurations = map[TTLClass]time.Duration{
	TTLStoreSuccess:     24 * time.Hour,
	TTLStoreError:       time.Hour,
	TTLAppAdsTxtFound:   12 * time.Hour,
	TTLAppAdsTxtMissing: 6 * time.Hour,
	TTLAppAdsTxtError:   time.Hour,
	TTLAnalysisResults:  48 * time.Hour,
	TTLBatchResult:      5 * time.Minute,
	TTLDefault:          24 * time.Hour,
}

// Duration maps a TTL class to its duration, falling back to the default class.
func (c TTLClass) Duration() time.Duration {
	if d, ok := ttlDurations[c]; ok {
		return d
	}
	return ttlDurations[TTLDefault]
}
