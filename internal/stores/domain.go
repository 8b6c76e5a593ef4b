package stores

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// domainPattern rejects hosts that survived parsing but are not plausible
// registrable domains (raw IPs, single labels, stray punctuation).
var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// RegistrableDomain reduces a developer website URL to the domain whose
// app-ads.txt is authoritative for it: host without port, lower-cased, cut to
// eTLD+1 under the public suffix list.
func RegistrableDomain(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse developer url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("developer url %q has no host", rawURL)
	}
	host = strings.TrimSuffix(host, ".")

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("registrable domain of %q: %w", host, err)
	}
	if !domainPattern.MatchString(domain) {
		return "", fmt.Errorf("%q is not a valid domain", domain)
	}
	return domain, nil
}

// NormalizeDomain validates a caller-supplied domain without reducing it to
// eTLD+1: a scheme prefix is tolerated, case and trailing dots are folded.
func NormalizeDomain(raw string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(raw))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
		host = host[:idx]
	}
	host = strings.TrimSuffix(host, ".")
	if !domainPattern.MatchString(host) {
		return "", fmt.Errorf("%q is not a valid domain", raw)
	}
	return host, nil
}
