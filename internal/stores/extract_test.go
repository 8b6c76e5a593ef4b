package stores

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/adscan/internal/httpclient"
	"github.com/patrickwarner/adscan/internal/models"
	"github.com/patrickwarner/adscan/internal/observability"
	"github.com/patrickwarner/adscan/internal/ratelimit"
)

func testExtractor(t *testing.T, registry *Registry) *Extractor {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewNoOpRegistry()
	client := httpclient.New(httpclient.Config{
		Timeout:      5 * time.Second,
		HeadTimeout:  2 * time.Second,
		MaxRetries:   1,
		RetryDelay:   time.Millisecond,
		MaxRedirects: 3,
		MaxConns:     4,
		MaxBodyBytes: 1 << 20,
	}, logger, metrics)
	limiter := ratelimit.New(nil, ratelimit.Config{Requests: 1000, Window: time.Second}, nil, logger, metrics)
	return NewExtractor(registry, client, limiter, logger)
}

func overriddenRegistry(server *httptest.Server, cfg StoreConfig) *Registry {
	registry := NewRegistry()
	cfg.URL = func(id string) string { return server.URL + "/store/" + id }
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit = ratelimit.Config{Requests: 1000, Window: time.Second}
	}
	registry.Override(cfg)
	return registry
}

func TestDeveloperURLViaRegexPattern(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><script>{"developerWebsite":"https:\/\/dev.example.com\/games"}</script></html>`)
	}))
	defer server.Close()

	registry := overriddenRegistry(server, StoreConfig{
		Kind:     models.StoreGooglePlay,
		Patterns: []*regexp.Regexp{regexp.MustCompile(`"developerWebsite"\s*:\s*"(https?:[^"]+)"`)},
	})

	url, err := testExtractor(t, registry).DeveloperURL(context.Background(), models.StoreGooglePlay, "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "https://dev.example.com/games", url)
}

func TestDeveloperURLFallsBackToSelector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><meta name="appstore:developer_url" content="https://studio.example.net"></head></html>`)
	}))
	defer server.Close()

	registry := overriddenRegistry(server, StoreConfig{
		Kind:      models.StoreAppStore,
		Patterns:  []*regexp.Regexp{regexp.MustCompile(`"sellerUrl":"(https?://[^"]+)"`)},
		Selectors: []Selector{{Query: `meta[name="appstore:developer_url"]`, Attr: "content"}},
	})

	url, err := testExtractor(t, registry).DeveloperURL(context.Background(), models.StoreAppStore, "id123456789")
	require.NoError(t, err)
	assert.Equal(t, "https://studio.example.net", url)
}

func TestDeveloperURLNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>no links here</body></html>`)
	}))
	defer server.Close()

	registry := overriddenRegistry(server, StoreConfig{
		Kind:     models.StoreRoku,
		Patterns: []*regexp.Regexp{regexp.MustCompile(`"developerUrl":"(https?://[^"]+)"`)},
	})

	_, err := testExtractor(t, registry).DeveloperURL(context.Background(), models.StoreRoku, "551012")
	assert.ErrorIs(t, err, ErrDeveloperURLNotFound)
}

func TestDeveloperURLStorePageMissing(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	registry := overriddenRegistry(server, StoreConfig{Kind: models.StoreAmazon})

	_, err := testExtractor(t, registry).DeveloperURL(context.Background(), models.StoreAmazon, "B0ABCDEFGH")
	require.Error(t, err)
	var statusErr *httpclient.StatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestDeveloperURLUnsupportedStore(t *testing.T) {
	_, err := testExtractor(t, NewRegistry()).DeveloperURL(context.Background(), models.StoreUnknown, "x")
	assert.ErrorIs(t, err, ErrStoreNotSupported)
}

func TestRokuStoreURLDropsSlug(t *testing.T) {
	cfg, ok := NewRegistry().Get(models.StoreRoku)
	require.True(t, ok)
	assert.Equal(t, "https://channelstore.roku.com/details/551012", cfg.URL("551012:pluto-tv"))
	assert.Equal(t, "https://channelstore.roku.com/details/551012", cfg.URL("551012"))
}

func TestCleanExtractedURL(t *testing.T) {
	assert.Equal(t, "https://a.com/b", cleanExtractedURL(`https:\/\/a.com\/b`))
	assert.Equal(t, "", cleanExtractedURL("/relative/path"))
	assert.Equal(t, "", cleanExtractedURL(""))
	assert.Equal(t, "https://a.com/?x=1&y=2", cleanExtractedURL(`https://a.com/?x=1&y=2`))
}
