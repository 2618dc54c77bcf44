package util

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NewProxyFunc creates a proxy function for outbound collaborator calls.
// An empty proxy URL falls back to the HTTP(S)_PROXY environment variables.
func NewProxyFunc(proxyURL string) (func(*http.Request) (*url.URL, error), error) {
	if proxyURL == "" {
		return http.ProxyFromEnvironment, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("proxy URL must include scheme and host: %s", proxyURL)
	}

	return http.ProxyURL(parsed), nil
}

// NewHTTPClient creates an HTTP client with a timeout and optional proxy
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	proxy, err := NewProxyFunc(proxyURL)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxy

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
