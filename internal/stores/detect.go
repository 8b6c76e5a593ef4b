// Package stores maps bundle identifiers to app stores, fetches store pages
// and extracts the developer's website, reduced to its registrable domain.
package stores

import (
	"regexp"

	"github.com/patrickwarner/adscan/internal/models"
)

// Detection is a first-match-wins pattern table. Amazon and Samsung shapes are
// unambiguous and go first; purely numeric IDs are split between the App Store
// and Roku by length, since iTunes IDs run long and Roku channel IDs short.
var detectionRules = []struct {
	kind    models.StoreKind
	pattern *regexp.Regexp
}{
	{models.StoreAmazon, regexp.MustCompile(`^B0[A-Z0-9]{8}$`)},
	{models.StoreSamsung, regexp.MustCompile(`^G\d{8,}$`)},
	{models.StoreAppStore, regexp.MustCompile(`^id\d+$`)},
	{models.StoreAppStore, regexp.MustCompile(`^\d{7,}$`)},
	// Roku channel IDs also appear with a slug suffix, e.g. "12345:channel-name".
	{models.StoreRoku, regexp.MustCompile(`^\d{1,6}(:[a-zA-Z0-9-]+)?$`)},
	{models.StoreGooglePlay, regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)},
}

// Detect returns the store a bundle ID belongs to, or StoreUnknown.
func Detect(bundleID string) models.StoreKind {
	for _, rule := range detectionRules {
		if rule.pattern.MatchString(bundleID) {
			return rule.kind
		}
	}
	return models.StoreUnknown
}

// FallbackOrder is the fixed sequence tried when the detected store fails.
var FallbackOrder = []models.StoreKind{
	models.StoreGooglePlay,
	models.StoreAppStore,
	models.StoreAmazon,
	models.StoreRoku,
	models.StoreSamsung,
}
