package stores

import (
	"regexp"
	"strings"
	"time"

	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/ratelimit"
)

// Selector is a DOM fallback tried after the regex patterns: a goquery query
// plus the attribute carrying the URL. An empty Attr takes the element text.
type Selector struct {
	Query string
	Attr  string
}

// StoreConfig describes one store: how to build the page URL for a bundle ID,
// the ordered extraction patterns for the developer website, and the outbound
// rate-limit budget for that store.
type StoreConfig struct {
	Kind      models.StoreKind
	URL       func(bundleID string) string
	Patterns  []*regexp.Regexp // first capture group is the developer URL
	Selectors []Selector
	RateLimit ratelimit.Config
}

// Registry holds the static per-store configuration built at startup.
type Registry struct {
	configs map[models.StoreKind]StoreConfig
}

// Get returns the configuration for a store kind.
func (r *Registry) Get(kind models.StoreKind) (StoreConfig, bool) {
	cfg, ok := r.configs[kind]
	return cfg, ok
}

// RateLimits exposes the per-store limiter budgets keyed by store kind.
func (r *Registry) RateLimits() map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(r.configs))
	for kind, cfg := range r.configs {
		out[string(kind)] = cfg.RateLimit
	}
	return out
}

// Override swaps one store's configuration. Used by tests to point a store at
// a local server.
func (r *Registry) Override(cfg StoreConfig) {
	r.configs[cfg.Kind] = cfg
}

// NewRegistry builds the default store table.
func NewRegistry() *Registry {
	configs := map[models.StoreKind]StoreConfig{
		models.StoreGooglePlay: {
			Kind: models.StoreGooglePlay,
			URL: func(id string) string {
				return "https://play.google.com/store/apps/details?id=" + id + "&hl=en"
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`"developerWebsite"\s*:\s*"(https?://[^"]+)"`),
				regexp.MustCompile(`\[null,null,null,\[null,null,null,"(https?://[^"]+)"\]\]`),
			},
			Selectors: []Selector{
				{Query: `a[href^="http"][aria-label*="Website"]`, Attr: "href"},
				{Query: `div[role="button"] a[href^="http"]`, Attr: "href"},
			},
			RateLimit: ratelimit.Config{Requests: 30, Window: time.Minute},
		},
		models.StoreAppStore: {
			Kind: models.StoreAppStore,
			URL: func(id string) string {
				if !strings.HasPrefix(id, "id") {
					id = "id" + id
				}
				return "https://apps.apple.com/us/app/" + id
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`"developerWebsiteUrl"\s*:\s*"(https?://[^"]+)"`),
				regexp.MustCompile(`"sellerUrl"\s*:\s*"(https?://[^"]+)"`),
			},
			Selectors: []Selector{
				{Query: `meta[name="appstore:developer_url"]`, Attr: "content"},
				{Query: `a.link.icon.icon-after.icon-external[href^="http"]`, Attr: "href"},
			},
			RateLimit: ratelimit.Config{Requests: 20, Window: time.Minute},
		},
		models.StoreAmazon: {
			Kind: models.StoreAmazon,
			URL: func(id string) string {
				return "https://www.amazon.com/dp/" + id
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`Developer\s+info<[^>]*>.*?href="(https?://[^"]+)"`),
			},
			Selectors: []Selector{
				{Query: `#dev-info a[href^="http"]`, Attr: "href"},
				{Query: `a:contains("Visit the")`, Attr: "href"},
			},
			RateLimit: ratelimit.Config{Requests: 10, Window: time.Minute},
		},
		models.StoreRoku: {
			Kind: models.StoreRoku,
			URL: func(id string) string {
				// Drop the slug from "12345:channel-name" forms.
				if i := strings.IndexByte(id, ':'); i >= 0 {
					id = id[:i]
				}
				return "https://channelstore.roku.com/details/" + id
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`"developer"\s*:\s*\{[^}]*"url"\s*:\s*"(https?://[^"]+)"`),
				regexp.MustCompile(`"developerUrl"\s*:\s*"(https?://[^"]+)"`),
			},
			Selectors: []Selector{
				{Query: `a[data-testid="developer-link"]`, Attr: "href"},
			},
			RateLimit: ratelimit.Config{Requests: 20, Window: time.Minute},
		},
		models.StoreSamsung: {
			Kind: models.StoreSamsung,
			URL: func(id string) string {
				return "https://galaxystore.samsung.com/detail/" + id
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`"sellerSite"\s*:\s*"(https?://[^"]+)"`),
				regexp.MustCompile(`Developer\s+website[^<]*<a[^>]+href="(https?://[^"]+)"`),
			},
			Selectors: []Selector{
				{Query: `a.seller-site[href^="http"]`, Attr: "href"},
				{Query: `a:contains("More by")`, Attr: "href"},
			},
			RateLimit: ratelimit.Config{Requests: 15, Window: time.Minute},
		},
	}
	return &Registry{configs: configs}
}
