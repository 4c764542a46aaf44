package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the trimmed build version.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent on every outbound request to the portal.
func UserAgent() string {
	return "EnergyCommunity/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller may reuse the request on a retry so never mutate it
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (t *userAgentTransport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if tr, ok := t.transport.(closeIdler); ok {
		tr.CloseIdleConnections()
	}
}

// HTTPClient returns a http client with the default user-agent set. Cookies are
// not stored on the client, callers that need a session manage them explicitly.
func HTTPClient(timeout time.Duration) *http.Client {
	return WrapClient(&http.Client{Transport: http.DefaultTransport}, timeout)
}

// WrapClient sets the user-agent transport and timeout on an existing client,
// keeping its underlying transport. This lets tests hand in httptest clients.
func WrapClient(c *http.Client, timeout time.Duration) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &userAgentTransport{
			transport: base,
			userAgent: UserAgent(),
		},
		CheckRedirect: c.CheckRedirect,
		Timeout:       timeout,
	}
}
