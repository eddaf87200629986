package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/enclaveflow/internal/tlsutil"
)

// HTTPConfig controls the outbound http capability.
type HTTPConfig struct {
	// AllowedHosts lists hostnames (optionally host:port) user code may
	// reach. An empty list denies every request.
	AllowedHosts []string
	Timeout      time.Duration
	MaxBodyBytes int64
	// RequestsPerSecond and Burst bound outbound calls across all invocations.
	RequestsPerSecond float64
	Burst             int
}

// DefaultHTTPConfig returns conservative defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:           10 * time.Second,
		MaxBodyBytes:      1 << 20,
		RequestsPerSecond: 20,
		Burst:             10,
	}
}

// ErrHostNotAllowed is returned for requests outside the allowlist.
var ErrHostNotAllowed = errors.New("host is not in the http allowlist")

// HTTPClient performs allowlisted outbound requests.
type HTTPClient struct {
	client  *http.Client
	allowed map[string]struct{}
	limiter *rate.Limiter
	maxBody int64
	logger  *zap.Logger
}

// HTTPResponse is what user code sees.
type HTTPResponse struct {
	Status  int
	Body    string
	Headers map[string]string
}

func (r *HTTPResponse) value() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return map[string]any{
		"status":  int64(r.Status),
		"body":    r.Body,
		"headers": headers,
	}
}

// NewHTTPClient creates the http capability. A nil client uses the
// hardened client from tlsutil.
func NewHTTPClient(cfg HTTPConfig, client *http.Client, logger *zap.Logger) *HTTPClient {
	defaults := DefaultHTTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}

	return &HTTPClient{
		client:  client,
		allowed: allowed,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxBody: cfg.MaxBodyBytes,
		logger:  logger.With(zap.String("component", "http_capability")),
	}
}

// Allowed reports whether rawURL may be requested.
func (c *HTTPClient) Allowed(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := c.allowed[host]; ok {
		return nil
	}
	if u.Port() != "" {
		if _, ok := c.allowed[strings.ToLower(net.JoinHostPort(host, u.Port()))]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Host)
}

// Do sends one request bound to ctx.
func (c *HTTPClient) Do(ctx context.Context, method, rawURL, body string, headers map[string]string) (*HTTPResponse, error) {
	if err := c.Allowed(rawURL); err != nil {
		return nil, fmt.Errorf("http.%s: %w", strings.ToLower(method), err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("http.%s: rate limit: %w", strings.ToLower(method), err)
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("http.%s: %w", strings.ToLower(method), err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.%s: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("http.%s: read body: %w", strings.ToLower(method), err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("http.%s: response body exceeds %d bytes", strings.ToLower(method), c.maxBody)
	}

	c.logger.Debug("outbound request",
		zap.String("method", method),
		zap.String("host", req.URL.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	out := &HTTPResponse{Status: resp.StatusCode, Body: string(data), Headers: make(map[string]string, len(resp.Header))}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	return out, nil
}
