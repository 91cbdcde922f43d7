package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"czdsfetch/internal"
)

// DefaultStreamIdleTimeout is how long a streamed body may go without data
const DefaultStreamIdleTimeout = 2 * time.Minute

// ErrStreamIdle reports a streamed body that stopped delivering data
var ErrStreamIdle = errors.New("no data received within the stream idle timeout")

// DefaultUserAgent is sent on every request; the account API rejects some bare client agents
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) czdsfetch/1.0"

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryConfig defines rate-limit retry behavior
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Sleep       SleepFunc
}

// DefaultRetryConfig returns the default retry configuration: 3 attempts,
// sleeping 2s then 4s (2^attempt seconds)
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		Sleep:       ContextSleep,
	}
}

// Delay calculates the wait after the given failed attempt (1-based)
func (r *RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := r.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	// Exponential backoff: baseDelay * multiplier^(attempt-1)
	delay := float64(r.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}
	return time.Duration(delay)
}

// Backoff sleeps for the delay that follows the given failed attempt
func (r *RetryConfig) Backoff(ctx context.Context, attempt int) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	return sleep(ctx, r.Delay(attempt))
}

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	// Timeout bounds a whole API exchange, body included. Streamed
	// downloads are not subject to it.
	Timeout     time.Duration
	// IdleTimeout bounds the silence between reads of a streamed body
	IdleTimeout time.Duration
	ProxyURL    string
	UserAgent   string
}

// HTTPClient wraps http.Client with proxy support, a fixed user agent and
// debug-level request logging
type HTTPClient struct {
	client      *http.Client
	stream      *http.Client
	idleTimeout time.Duration
	userAgent   string
}

// NewHTTPClient creates a new HTTP client with default configuration
func NewHTTPClient() *HTTPClient {
	client, _ := NewHTTPClientWithConfig(&HTTPClientConfig{
		Timeout:     30 * time.Second,
		IdleTimeout: DefaultStreamIdleTimeout,
	})
	return client
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) (*HTTPClient, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			return nil, err
		}
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("too many redirects")
		}
		// Zone downloads redirect to storage hosts; keep the bearer token on same-host hops only
		if len(via) > 0 && req.URL.Host != via[0].URL.Host {
			req.Header.Del("Authorization")
		}
		return nil
	}

	return &HTTPClient{
		client:      &http.Client{Transport: transport, Timeout: config.Timeout, CheckRedirect: checkRedirect},
		stream:      &http.Client{Transport: transport, CheckRedirect: checkRedirect},
		idleTimeout: config.IdleTimeout,
		userAgent:   userAgent,
	}, nil
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	if err := ValidateProxyURL(proxyURL); err != nil {
		return err
	}
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		transport.Proxy = nil
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// Do sends an API request with the configured user agent. The whole exchange,
// body included, must finish within the client timeout. The caller owns the response body.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.send(c.client, req)
}

// DoStream sends a request whose body may take arbitrarily long to read, such
// as a zone file paced by a bandwidth limit. Only the request context and the
// idle timeout between reads end the transfer. The caller must close the body.
func (c *HTTPClient) DoStream(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancelCause(req.Context())
	resp, err := c.send(c.stream, req.WithContext(ctx))
	if err != nil {
		cancel(nil)
		return nil, err
	}
	resp.Body = newIdleBody(ctx, resp.Body, c.idleTimeout, cancel)
	return resp, nil
}

func (c *HTTPClient) send(client *http.Client, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)

	logger := internal.GetLogger()
	logger.LogHTTPRequest(req)

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	logger.LogHTTPResponse(resp, time.Since(started))
	return resp, nil
}

// UserAgent returns the agent sent with every request
func (c *HTTPClient) UserAgent() string {
	return c.userAgent
}

// Timeout returns the overall API request timeout
func (c *HTTPClient) Timeout() time.Duration {
	return c.client.Timeout
}

// IdleTimeout returns the longest pause tolerated while streaming a body
func (c *HTTPClient) IdleTimeout() time.Duration {
	return c.idleTimeout
}

// idleBody cancels its request once no bytes have arrived for idle. A
// non-positive idle disables the watchdog.
type idleBody struct {
	io.ReadCloser
	ctx    context.Context
	idle   time.Duration
	timer  *time.Timer
	cancel context.CancelCauseFunc
}

func newIdleBody(ctx context.Context, body io.ReadCloser, idle time.Duration, cancel context.CancelCauseFunc) *idleBody {
	b := &idleBody{ReadCloser: body, ctx: ctx, idle: idle, cancel: cancel}
	if idle > 0 {
		b.timer = time.AfterFunc(idle, func() { cancel(ErrStreamIdle) })
	}
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.idle)
	}
	if err == nil || err == io.EOF || b.ctx.Err() == nil {
		return n, err
	}
	cause := context.Cause(b.ctx)
	if errors.Is(cause, ErrStreamIdle) {
		return n, fmt.Errorf("%w (%v)", ErrStreamIdle, b.idle)
	}
	if !errors.Is(err, cause) {
		err = fmt.Errorf("%w: %v", cause, err)
	}
	return n, err
}

func (b *idleBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}
