// Package httpclient builds *http.Client values with sane, per-caller
// timeout/transport defaults, so every outbound integration (today: the
// Slack notifier) shares one place to reason about connection pooling and
// retry-relevant timeouts instead of using http.DefaultClient.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig controls the *http.Client and its Transport.
type ClientConfig struct {
	Timeout                 time.Duration
	MaxRetries              int
	DisableSSLVerification  bool
	MaxIdleConns            int
	IdleConnTimeout         time.Duration
	TLSHandshakeTimeout     time.Duration
	ResponseHeaderTimeout   time.Duration
}

// DefaultClientConfig is a conservative baseline for a generic outbound call.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:               30 * time.Second,
		MaxRetries:            3,
		MaxIdleConns:          10,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// SlackClientConfig is tuned for Slack's webhook/API latency profile: a short
// timeout, since a stuck notification must never hold up the decision path
// that triggered it. It lowers MaxRetries to 2, but NewClient does not read
// MaxRetries: the returned client makes no retries.
func SlackClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxRetries = 2
	return cfg
}

// PrometheusClientConfig is tuned for scraping/pushing metrics: the
// response-header wait is half the overall timeout, since a slow metrics
// backend should fail fast rather than eat the whole budget on headers.
func PrometheusClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 2
	return cfg
}

// NewClient builds an *http.Client from config.
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client from DefaultClientConfig with only
// the timeout overridden.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	return NewClient(cfg)
}

// NewDefaultClient builds a client from DefaultClientConfig.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}
