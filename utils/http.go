package utils

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"e6grab/internal"
)

// Client is the pooled, rate-respecting HTTP client shared by the search
// path and all download workers. It applies timeouts and connection limits
// from configuration and returns errors without retrying; retry policy
// belongs to the orchestrator.
type Client struct {
	client    *http.Client
	transport *http.Transport
	userAgent string
	// admission gate bounding in-flight requests across all callers
	slots chan struct{}
}

// NewClient builds a client from the HTTP configuration section.
func NewClient(cfg internal.HTTPConfig) (*Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(cfg.ConnectTimeoutSecs) * time.Second,
			KeepAlive: keepAlivePeriod(cfg.TCPKeepalive),
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.PoolMaxIdlePerHost * 4,
		MaxIdleConnsPerHost:   cfg.PoolMaxIdlePerHost,
		IdleConnTimeout:       time.Duration(cfg.PoolIdleTimeoutSecs) * time.Second,
		ForceAttemptHTTP2:     cfg.HTTP2PriorKnowledge,
	}

	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, cfg.ProxyURL); err != nil {
			return nil, internal.NewConfigError("http.proxy_url", err)
		}
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		transport: transport,
		userAgent: cfg.UserAgent,
		slots:     make(chan struct{}, cfg.MaxConnections),
	}, nil
}

// keepAlivePeriod returns the keep-alive probe interval, or a negative
// value to disable probes.
func keepAlivePeriod(enabled bool) time.Duration {
	if !enabled {
		return -1
	}
	return 60 * time.Second
}

// configureProxy sets up http, https or socks5 proxying on the transport.
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, nil, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}

	return nil
}

// acquire blocks until an in-flight slot is free or the context ends.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.slots
}

// Request performs a request and returns the full response body. Non-2xx
// statuses become HTTPStatus errors; transport failures become Network
// errors. The admission slot is held for the duration of the body read.
func (c *Client) Request(ctx context.Context, method, rawURL string, query url.Values) ([]byte, error) {
	resp, err := c.Do(ctx, method, rawURL, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internal.ClassifyTransport(method+" "+rawURL, err)
	}
	return body, nil
}

// Do performs a request and returns the live response for streaming
// consumers. The caller must close the body; the admission slot is
// released on close. Non-2xx statuses are drained, closed and returned as
// HTTPStatus errors.
func (c *Client) Do(ctx context.Context, method, rawURL string, query url.Values) (*http.Response, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		c.release()
		return nil, internal.NewNetworkError(method+" "+rawURL, err)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, */*")

	resp, err := c.client.Do(req)
	if err != nil {
		c.release()
		return nil, internal.ClassifyTransport(method+" "+rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := resp.StatusCode
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.release()
		return nil, internal.NewHTTPStatusError(method+" "+rawURL, status)
	}

	resp.Body = &gatedBody{ReadCloser: resp.Body, release: c.release}
	return resp, nil
}

// CloseIdle closes idle pooled connections for teardown.
func (c *Client) CloseIdle() {
	c.transport.CloseIdleConnections()
}

// gatedBody releases the admission slot exactly once when closed.
type gatedBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *gatedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
