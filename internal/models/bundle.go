package models

import (
	"fmt"
	"strings"
)

// StoreKind identifies the app store a bundle ID belongs to.
type StoreKind string

const (
	StoreGooglePlay StoreKind = "googleplay"
	StoreAppStore   StoreKind = "appstore"
	StoreAmazon     StoreKind = "amazon"
	StoreRoku       StoreKind = "roku"
	StoreSamsung    StoreKind = "samsung"
	StoreUnknown    StoreKind = "unknown"
)

// maxBundleIDLength bounds bundle identifiers on ingress.
const maxBundleIDLength = 100

// bundleIDForbidden lists characters rejected in bundle IDs to keep them out
// of HTML and shell contexts downstream.
const bundleIDForbidden = `<>"'&;`

// ValidateBundleID checks the ingress rules for a bundle identifier: non-empty
// after trimming, at most 100 characters, printable, and free of markup
// metacharacters. The trimmed value is returned.
func ValidateBundleID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("bundle id is empty")
	}
	if len(id) > maxBundleIDLength {
		return "", fmt.Errorf("bundle id exceeds %d characters", maxBundleIDLength)
	}
	if strings.ContainsAny(id, bundleIDForbidden) {
		return "", fmt.Errorf("bundle id contains forbidden characters")
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("bundle id contains non-printable characters")
		}
	}
	return id, nil
}
