// Package httpclient implements the outbound fetcher used for store pages and
// app-ads.txt files: keep-alive pooling, user-agent rotation, linear retry on
// transient failures, transparent content decoding and a hard response cap.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/observability"
)

// ErrResponseTooLarge is returned when a body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("response exceeds size limit")

// ErrTooManyRedirects is returned when the redirect hop limit is reached.
var ErrTooManyRedirects = errors.New("too many redirects")

// StatusError is a non-2xx terminal response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Config holds the client tunables.
type Config struct {
	Timeout      time.Duration // per attempt, body fetches
	HeadTimeout  time.Duration // per attempt, HEAD probes
	MaxRetries   int
	RetryDelay   time.Duration // multiplied by the attempt number
	MaxRedirects int
	MaxConns     int
	MaxBodyBytes int64
	StableUA     bool
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		HeadTimeout:  5 * time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Second,
		MaxRedirects: 5,
		MaxConns:     64,
		MaxBodyBytes: 20 << 20,
	}
}

// Options adjust a single request.
type Options struct {
	// StableUA pins the first user agent instead of rotating per request.
	StableUA bool
	// Target labels outbound metrics (store kind or "app-ads-txt").
	Target string
	// Accept overrides the Accept header.
	Accept string
}

// Response is the outcome of a fetch.
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          string
	ContentLength int64
	FinalURL      string
}

// desktop user agents rotated on outbound requests
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// Client performs outbound HTTP with retry and decoding. Safe for concurrent use.
type Client struct {
	http    *http.Client
	cfg     Config
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu  sync.Mutex
	rnd *rand.Rand
}

// New constructs a Client with a shared keep-alive transport.
func New(cfg Config, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConns,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		// Decoding is handled manually so Accept-Encoding can be set explicitly.
		DisableCompression: true,
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}

	return &Client{
		http:    client,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// FetchText fetches the URL and returns the decoded text body.
func (c *Client) FetchText(ctx context.Context, url string, opts Options) (*Response, error) {
	resp, body, err := c.doWithRetry(ctx, http.MethodGet, url, opts, c.cfg.Timeout)
	if err != nil {
		return resp, err
	}
	defer func() { _ = body.Close() }()

	text, err := c.readCapped(body)
	if err != nil {
		return resp, err
	}
	resp.Body = text
	return resp, nil
}

// Head probes the URL and reports status and headers without a body.
func (c *Client) Head(ctx context.Context, url string, opts Options) (*Response, error) {
	resp, body, err := c.doWithRetry(ctx, http.MethodHead, url, opts, c.cfg.HeadTimeout)
	if body != nil {
		_ = body.Close()
	}
	return resp, err
}

// FetchStream fetches the URL and returns the decoded body as a lazy reader.
// The reader is finite, not restartable, and enforces the size cap; the caller
// must close it.
func (c *Client) FetchStream(ctx context.Context, url string, opts Options) (*Response, io.ReadCloser, error) {
	resp, body, err := c.doWithRetry(ctx, http.MethodGet, url, opts, c.cfg.Timeout)
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return resp, nil, err
	}
	return resp, &cappedReader{r: body, remaining: c.cfg.MaxBodyBytes}, nil
}

// doWithRetry runs the request with the retry policy: up to MaxRetries
// attempts, linear backoff of RetryDelay x attempt, retrying network errors,
// 408, 429 and 5xx. Other non-2xx codes are terminal.
func (c *Client) doWithRetry(ctx context.Context, method, url string, opts Options, perAttempt time.Duration) (*Response, io.ReadCloser, error) {
	var lastErr error
	target := opts.Target
	if target == "" {
		target = "default"
	}

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			c.metrics.IncrementOutboundRetry(target)
			delay := c.cfg.RetryDelay * time.Duration(attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		resp, body, err := c.doOnce(ctx, method, url, opts, perAttempt)
		if err == nil {
			c.metrics.IncrementOutboundFetch(target, fmt.Sprintf("%d", resp.StatusCode))
			return resp, body, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.metrics.IncrementOutboundFetch(target, fmt.Sprintf("%d", statusErr.Code))
			if !retryableStatus(statusErr.Code) {
				return resp, nil, err
			}
		} else {
			c.metrics.IncrementOutboundFetch(target, "network_error")
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
		}

		c.logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, nil, fmt.Errorf("all %d attempts failed for %s: %w", c.cfg.MaxRetries, url, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, url string, opts Options, perAttempt time.Duration) (*Response, io.ReadCloser, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)

	req, err := http.NewRequestWithContext(attemptCtx, method, url, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", c.pickUserAgent(opts))
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	} else {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	resp := &Response{
		StatusCode:    httpResp.StatusCode,
		Header:        httpResp.Header,
		ContentLength: httpResp.ContentLength,
		FinalURL:      httpResp.Request.URL.String(),
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		_ = httpResp.Body.Close()
		cancel()
		return resp, nil, &StatusError{Code: httpResp.StatusCode, URL: url}
	}

	if resp.ContentLength > c.cfg.MaxBodyBytes {
		_ = httpResp.Body.Close()
		cancel()
		return resp, nil, ErrResponseTooLarge
	}

	decoded, err := decodeBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = httpResp.Body.Close()
		cancel()
		return resp, nil, fmt.Errorf("decode body: %w", err)
	}

	// The cancel is tied to the body so the attempt deadline keeps covering
	// the read of a streamed response.
	return resp, &cancelReadCloser{ReadCloser: decoded, cancel: cancel}, nil
}

func (c *Client) pickUserAgent(opts Options) string {
	if c.cfg.StableUA || opts.StableUA {
		return userAgents[0]
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return userAgents[c.rnd.Intn(len(userAgents))]
}

func (c *Client) readCapped(r io.Reader) (string, error) {
	limited := io.LimitReader(r, c.cfg.MaxBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", err
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return "", ErrResponseTooLarge
	}
	return string(data), nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// decodeBody wraps the body with the decoder matching its Content-Encoding.
func decodeBody(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		return &wrappedBody{decoder: gz, underlying: body}, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, err
		}
		return &wrappedBody{decoder: zr, underlying: body}, nil
	case "br":
		return &wrappedBody{decoder: io.NopCloser(brotli.NewReader(body)), underlying: body}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

type wrappedBody struct {
	decoder    io.ReadCloser
	underlying io.ReadCloser
}

func (w *wrappedBody) Read(p []byte) (int, error) { return w.decoder.Read(p) }

func (w *wrappedBody) Close() error {
	err := w.decoder.Close()
	if uErr := w.underlying.Close(); err == nil {
		err = uErr
	}
	return err
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// cappedReader enforces the size cap on streamed bodies.
type cappedReader struct {
	r         io.ReadCloser
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		// Probe one byte so a body that ends exactly at the cap still
		// terminates with EOF.
		var probe [1]byte
		n, err := c.r.Read(probe[:])
		if n > 0 {
			return 0, ErrResponseTooLarge
		}
		if err == nil {
			err = ErrResponseTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

func (c *cappedReader) Close() error { return c.r.Close() }
