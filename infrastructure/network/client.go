// Package network implements the Network capability on net/http.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"go.uber.org/zap"
)

const (
	DefaultMaxURLLength = 8192
	DefaultMaxBodySize  = 16 << 20 // 16MB
	DefaultTimeout      = 30 * time.Second
)

// ErrBodyTooLarge is returned by a response body that exceeds the size limit.
var ErrBodyTooLarge = errors.New("response body exceeds max size")

// clientConfig holds configuration for the Client.
type clientConfig struct {
	logger        *zap.Logger
	transport     http.RoundTripper
	allowedHosts  []string
	filterOptions []FilterOption
	timeout       time.Duration
	maxBodySize   int64
	maxURLLength  int
	noFilter      bool
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		logger:       zap.NewNop(),
		timeout:      DefaultTimeout,
		maxBodySize:  DefaultMaxBodySize,
		maxURLLength: DefaultMaxURLLength,
	}
}

// Option configures a Client.
type Option func(*clientConfig)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTimeout sets the timeout of a whole request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithMaxBodySize limits the response body size.
func WithMaxBodySize(size int64) Option {
	return func(c *clientConfig) {
		c.maxBodySize = size
	}
}

// WithAllowedHosts restricts requests to the given hosts and their subdomains.
// An empty list allows every host the egress filter allows.
func WithAllowedHosts(hosts ...string) Option {
	return func(c *clientConfig) {
		c.allowedHosts = hosts
	}
}

// WithEgressFilter configures the egress filter applied at dial time.
func WithEgressFilter(opts ...FilterOption) Option {
	return func(c *clientConfig) {
		c.filterOptions = append(c.filterOptions, opts...)
	}
}

// WithoutEgressFilter disables address checks. Only for trusted environments.
func WithoutEgressFilter() Option {
	return func(c *clientConfig) {
		c.noFilter = true
	}
}

// WithTransport replaces the HTTP transport. The egress filter is not applied
// to a custom transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.transport = rt
	}
}

// Client performs fetches for the core.
type Client struct {
	client *http.Client
	config clientConfig
}

var _ ports.Network = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if !cfg.noFilter {
			dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
			base.DialContext = NewEgressFilter(cfg.filterOptions...).DialContext(dialer)
			base.Proxy = nil
		}
		transport = base
	}

	return &Client{
		client: &http.Client{Timeout: cfg.timeout, Transport: transport},
		config: cfg,
	}
}

// Fetch sends the request and returns once the response head arrived.
// The caller owns the returned body.
func (c *Client) Fetch(ctx context.Context, req *entities.HTTPRequest) (*entities.HTTPResponse, error) {
	u, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &domainerrors.NetworkError{Operation: "request", Target: u.Host, Err: err}
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.config.logger.Debug("fetch failed", zap.String("method", method), zap.String("host", u.Host), zap.Error(err))
		return nil, c.mapError(u, err)
	}
	c.config.logger.Debug("fetch",
		zap.String("method", method),
		zap.String("host", u.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	headers := entities.Multimap{}
	for key, values := range resp.Header {
		lower := strings.ToLower(key)
		headers[lower] = append(headers[lower], values...)
	}

	return &entities.HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       &limitedBody{rc: resp.Body, remaining: c.config.maxBodySize},
	}, nil
}

func (c *Client) buildURL(req *entities.HTTPRequest) (*url.URL, error) {
	if len(req.URL) > c.config.maxURLLength {
		return nil, &domainerrors.NetworkError{Operation: "request", Err: fmt.Errorf("url exceeds max length %d", c.config.maxURLLength)}
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, &domainerrors.NetworkError{Operation: "request", Err: fmt.Errorf("invalid url: %w", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &domainerrors.NetworkError{Operation: "request", Target: u.Host, Err: fmt.Errorf("scheme must be http or https")}
	}
	if !c.isHostAllowed(u.Hostname()) {
		return nil, &domainerrors.CapabilityError{Required: "network", Pattern: u.Hostname()}
	}

	if len(req.Query) > 0 {
		q := u.Query()
		for key, values := range req.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (c *Client) isHostAllowed(host string) bool {
	if len(c.config.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range c.config.allowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (c *Client) mapError(u *url.URL, err error) error {
	if errors.Is(err, ErrEgressBlocked) {
		return &domainerrors.CapabilityError{Required: "network", Pattern: u.Host}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domainerrors.TimeoutError{Operation: "fetch", Duration: c.config.timeout, Target: u.Host}
	}
	return &domainerrors.NetworkError{Operation: "fetch", Target: u.Host, Err: err}
}

// limitedBody fails reads once more than remaining bytes were produced.
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		var peek [1]byte
		n, err := b.rc.Read(peek[:])
		if n > 0 {
			return 0, ErrBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
