// Package httpclient builds the outbound HTTP client shared by the fetchers.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// connection pooling limits; the agent talks to a handful of API hosts
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 4
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 60 * time.Second
)

// DefaultUserAgent is sent when a request carries no User-Agent header.
const DefaultUserAgent = "devpulse"

// Client wraps a pooled, rate limited [http.Client].
//
// Timeouts are applied per request via the context, never as a global client
// timeout, so each source keeps its own deadline.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
}

type settings struct {
	limiter   *rate.Limiter
	userAgent string
}

// Option configures a [Client].
type Option func(*settings)

// WithRateLimit caps outbound requests at r per second with the given burst.
// A zero or negative r disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(s *settings) {
		if r <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithLimiter uses an existing limiter, shared with other clients.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *settings) {
		s.limiter = l
	}
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// New creates a [Client] with HTTP/2 enabled on its transport.
func New(opts ...Option) *Client {
	s := settings{userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(&s)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	// only fails when the transport was already configured for h2
	_ = http2.ConfigureTransport(transport)

	return &Client{
		httpClient: &http.Client{
			Transport: &limitedTransport{
				base:      transport,
				limiter:   s.limiter,
				userAgent: s.userAgent,
			},
		},
		transport: transport,
	}
}

// HTTPClient returns the underlying client for SDKs that take an *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Close closes idle connections. The client stays usable.
func (c *Client) Close() {
	if c == nil || c.transport == nil {
		return
	}
	c.transport.CloseIdleConnections()
}

// limitedTransport waits on a token bucket before each round trip.
type limitedTransport struct {
	base      http.RoundTripper
	limiter   *rate.Limiter
	userAgent string
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, limitError(req.Context(), err)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// limitError maps a failed limiter wait onto the context error it stands for.
// Wait fails early, with a plain error, when the next token would arrive after
// the deadline; that is still a timeout to the caller.
func limitError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("rate limit wait: %w", ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("rate limit wait: %w: %v", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("rate limit wait: %w", err)
}
