package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/adscan/internal/observability"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.HeadTimeout == 0 {
		cfg.HeadTimeout = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return New(cfg, zaptest.NewLogger(t), observability.NewNoOpRegistry())
}

func TestFetchText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, "example.com, pub-1, DIRECT")
	}))
	defer server.Close()

	resp, err := newTestClient(t, Config{}).FetchText(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "example.com, pub-1, DIRECT", resp.Body)
	assert.Equal(t, server.URL, resp.FinalURL)
}

func TestRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	resp, err := newTestClient(t, Config{MaxRetries: 3}).FetchText(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body)
	assert.Equal(t, int64(3), hits.Load())
}

func TestDoesNotRetryTerminalStatus(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(t, Config{MaxRetries: 3}).FetchText(context.Background(), server.URL, Options{})
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, int64(1), hits.Load())
}

func TestGzipDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write([]byte("compressed payload"))
		_ = gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	resp, err := newTestClient(t, Config{}).FetchText(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", resp.Body)
}

func TestBodySizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer server.Close()

	_, err := newTestClient(t, Config{MaxBodyBytes: 1024}).FetchText(context.Background(), server.URL, Options{})
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestBodyExactlyAtCap(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	resp, err := newTestClient(t, Config{MaxBodyBytes: 1024}).FetchText(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 1024)
}

func TestFetchStreamEnforcesCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 4096))
	}))
	defer server.Close()

	_, body, err := newTestClient(t, Config{MaxBodyBytes: 1024}).FetchStream(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestFetchStreamReadsWholeBodyUnderCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "streamed content")
	}))
	defer server.Close()

	_, body, err := newTestClient(t, Config{}).FetchStream(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "streamed content", string(data))
}

func TestRedirectLimit(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	_, err := newTestClient(t, Config{MaxRedirects: 2}).FetchText(context.Background(), server.URL, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect")
}

func TestRedirectsAreFollowed(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, server.URL+"/final", http.StatusMovedPermanently)
			return
		}
		fmt.Fprint(w, "landed")
	}))
	defer server.Close()

	resp, err := newTestClient(t, Config{}).FetchText(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "landed", resp.Body)
	assert.True(t, strings.HasSuffix(resp.FinalURL, "/final"))
}

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "12345")
	}))
	defer server.Close()

	resp, err := newTestClient(t, Config{}).Head(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(12345), resp.ContentLength)
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, Config{}).FetchText(ctx, server.URL, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStableUserAgent(t *testing.T) {
	var agents []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
	}))
	defer server.Close()

	client := newTestClient(t, Config{StableUA: true})
	for i := 0; i < 3; i++ {
		_, err := client.FetchText(context.Background(), server.URL, Options{})
		require.NoError(t, err)
	}
	for _, ua := range agents {
		assert.Equal(t, userAgents[0], ua)
	}
}
