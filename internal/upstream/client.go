// Package upstream holds the HTTP clients for the two market data providers:
// FinMind (token-optional, quota-constrained) and Yahoo Finance.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrMissingData means the provider answered without a data payload. FinMind
// does this when an account is silently locked out for the hour.
var ErrMissingData = errors.New("response has no data field, quota may be exhausted")

// HTTPError is a non-success answer from a provider.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: status %d, body: %s", e.Provider, e.Status, e.Body)
}

// HTTPStatus exposes the status code to the rate limiter.
func (e *HTTPError) HTTPStatus() int { return e.Status }

// newHTTPClient builds a client with optional proxy support.
func newHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}

// truncate keeps error bodies readable in logs.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
