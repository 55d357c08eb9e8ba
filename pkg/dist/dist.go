package dist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Rust distribution server
const DefaultBaseURL = "https://static.rust-lang.org"

// TransportError is a network or HTTP failure talking to the distribution server
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Options configures a Client
type Options struct {
	BaseURL       string
	ManifestsPath string
	// Timeout bounds each manifest download
	Timeout time.Duration
	// ListTimeout bounds the manifest list download
	ListTimeout time.Duration
	RPS         float64
	Burst       int
}

// Client fetches the manifest list and manifest documents.
// It is safe for concurrent use.
type Client struct {
	BaseURL       string
	ManifestsPath string
	Logger        *zap.Logger

	http        *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	listTimeout time.Duration
}

// NewClient creates a new Client instance
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ManifestsPath == "" {
		opts.ManifestsPath = "manifests.txt"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:       strings.TrimRight(opts.BaseURL, "/"),
		ManifestsPath: strings.TrimLeft(opts.ManifestsPath, "/"),
		Logger:        logger,
		http:          &http.Client{},
		limiter:       rate.NewLimiter(limit, burst),
		timeout:       opts.Timeout,
		listTimeout:   opts.ListTimeout,
	}
}

// ManifestList fetches the published manifest identifiers, oldest first
func (c *Client) ManifestList(ctx context.Context) ([]string, error) {
	url := c.BaseURL + "/" + c.ManifestsPath
	c.Logger.Debug("fetching manifest list", zap.String("url", url))

	body, err := c.get(ctx, url, c.listTimeout)
	if err != nil {
		return nil, err
	}

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			ids = append(ids, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	return ids, nil
}

// Fetch downloads one manifest document
func (c *Client) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	return c.get(ctx, c.URL(identifier), c.timeout)
}

// URL resolves a manifest identifier. Identifiers in the published list carry
// the host ("static.rust-lang.org/dist/..."); bare paths are joined to BaseURL.
func (c *Client) URL(identifier string) string {
	if strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://") {
		return identifier
	}
	trimmed := strings.TrimLeft(identifier, "/")
	if host, _, ok := strings.Cut(trimmed, "/"); ok && strings.Contains(host, ".") {
		return "https://" + trimmed
	}
	return c.BaseURL + "/" + trimmed
}

func (c *Client) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	return body, nil
}
