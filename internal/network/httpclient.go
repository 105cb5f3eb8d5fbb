// File: internal/network/httpclient.go
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/liveauth/internal/config"
)

// Constants for default TCP/HTTP settings. A login handshake talks to a
// handful of hosts sequentially, so the pool is kept small.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 20 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxRedirects          = 10

	DefaultMaxIdleConns        = 10
	DefaultMaxIdleConnsPerHost = 2
	DefaultIdleConnTimeout     = 30 * time.Second
)

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	IgnoreTLSErrors bool
	TLSConfig       *tls.Config

	RequestTimeout        time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	DialerConfig *DialerConfig

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	ForceHTTP2 bool

	// MaxRedirects bounds how many redirects a single request may follow.
	MaxRedirects int
	// StepDelay is the minimum spacing between two requests issued through the client.
	// Zero disables pacing.
	StepDelay time.Duration

	ProxyURL *url.URL

	// CookieJar carries the session cookies across the whole handshake.
	CookieJar http.CookieJar

	Logger *zap.Logger
}

// NewDefaultClientConfig creates a configuration suited to a browser-like login flow.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		DialerConfig:          NewDialerConfig(),
		RequestTimeout:        DefaultRequestTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceHTTP2:            true,
		MaxRedirects:          DefaultMaxRedirects,
		Logger:                zap.NewNop(),
	}
}

// ClientConfigFromSettings maps the user-facing network settings onto a ClientConfig.
func ClientConfigFromSettings(settings config.NetworkConfig, logger *zap.Logger) (*ClientConfig, error) {
	cfg := NewDefaultClientConfig()
	if settings.Timeout > 0 {
		cfg.RequestTimeout = settings.Timeout
	}
	if settings.TLSHandshakeTimeout > 0 {
		cfg.TLSHandshakeTimeout = settings.TLSHandshakeTimeout
	}
	cfg.MaxRedirects = settings.MaxRedirects
	cfg.StepDelay = settings.StepDelay
	cfg.IgnoreTLSErrors = settings.IgnoreTLSErrors
	cfg.ForceHTTP2 = settings.ForceHTTP2

	if settings.ProxyURL != "" {
		proxyURL, err := url.Parse(settings.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		cfg.ProxyURL = proxyURL
	}
	if logger != nil {
		cfg.Logger = logger
	}
	return cfg, nil
}

// StatusError reports a response whose status code signals an HTTP error (>= 400).
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected HTTP status %s", e.Method, e.URL, e.Status)
}

// Client is a wrapper around the standard http.Client.
//
// Do follows redirects, keeps cookies in the configured jar, paces requests
// when StepDelay is set, and turns HTTP error statuses into *StatusError.
//
// The caller is responsible for closing the Response.Body.
type Client struct {
	*http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPTransport creates and configures an http.Transport based on the provided configuration.
func NewHTTPTransport(config *ClientConfig) *http.Transport {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.DialerConfig == nil {
		config.DialerConfig = NewDialerConfig()
	}

	// Copy so later mutation of the caller's config cannot leak into live connections.
	dialerConfig := *config.DialerConfig

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialTCPContext(ctx, network, addr, &dialerConfig)
		},
		TLSClientConfig:       configureTLS(config),
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		// Bodies must reach the BodyDecoder with their Content-Encoding intact.
		DisableCompression: true,
		ForceAttemptHTTP2:  config.ForceHTTP2,
	}

	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}

	if config.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			config.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	}

	return transport
}

// NewClient creates the client used by one authentication attempt.
// A fresh cookie jar is created when the config does not supply one.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	jar := config.CookieJar
	if jar == nil {
		j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		jar = j
	}

	logger := config.Logger.Named("httpclient")
	maxRedirects := config.MaxRedirects

	standardClient := &http.Client{
		Transport: NewHTTPTransport(config),
		Timeout:   config.RequestTimeout,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			logger.Debug("Following redirect", zap.String("host", req.URL.Host), zap.Int("hop", len(via)))
			return nil
		},
	}

	c := &Client{Client: standardClient, logger: logger}
	if config.StepDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(config.StepDelay), 1)
	}
	return c, nil
}

// Do sends the request. Transport failures are returned as-is; responses with
// status >= 400 are closed and reported as *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("request pacing interrupted: %w", err)
		}
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, &StatusError{
			Method:     req.Method,
			URL:        resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}
	return resp, nil
}

// configureTLS sets up the TLS configuration with strong defaults.
func configureTLS(config *ClientConfig) *tls.Config {
	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(64),
		}
	}

	tlsConfig.InsecureSkipVerify = config.IgnoreTLSErrors
	return tlsConfig
}
