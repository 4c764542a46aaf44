// Package portal is a client for the energy community web portal. The portal
// uses a cookie session protected by a CSRF token, which the client obtains
// with a three step login and renews once whenever a request comes back 401.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/energycommunity/pkg/common"
	"github.com/raterudder/energycommunity/pkg/log"
	"github.com/raterudder/energycommunity/pkg/metrics"
	"github.com/raterudder/energycommunity/pkg/types"
)

// DefaultBaseURL is the public portal.
const DefaultBaseURL = "https://energiegemeinschaften.fronius.at"

const (
	loginPagePath = "/backend/login"
	csrfPath      = "/backend/api/csrf-token"
	loginPath     = "/backend/api/auth/login"

	xsrfCookie = "XSRF-TOKEN"
	xsrfHeader = "X-XSRF-TOKEN"

	maxBodySize = 32 << 20
)

// session is the authentication state of one client. It is only read or
// written while holding Client.mu.
type session struct {
	cookies       map[string]string
	csrfToken     string
	authenticated bool
}

func (s *session) merge(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	if s.cookies == nil {
		s.cookies = make(map[string]string, len(cookies))
	}
	for _, c := range cookies {
		s.cookies[c.Name] = c.Value
	}
}

// csrfHeader prefers the XSRF-TOKEN cookie since that is what the portal
// checks, falling back to the token from the csrf endpoint.
func (s *session) csrfHeader() string {
	if v, ok := s.cookies[xsrfCookie]; ok && v != "" {
		if unescaped, err := url.QueryUnescape(v); err == nil {
			return unescaped
		}
		return v
	}
	return s.csrfToken
}

func (s *session) apply(req *http.Request) {
	if len(s.cookies) > 0 {
		names := make([]string, 0, len(s.cookies))
		for name := range s.cookies {
			names = append(names, name)
		}
		slices.Sort(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, (&http.Cookie{Name: name, Value: s.cookies[name]}).String())
		}
		req.Header.Set("Cookie", strings.Join(parts, "; "))
	}
	if token := s.csrfHeader(); token != "" {
		req.Header.Set(xsrfHeader, token)
	}
}

// Client talks to the portal on behalf of a single account. All requests are
// serialized so a re-login never races a request using the old session.
type Client struct {
	client  *http.Client
	baseURL string
	creds   types.Credentials
	now     func() time.Time

	mu     sync.Mutex
	sess   session
	closed bool
}

// NewClient returns a client for the portal at baseURL. If httpClient is nil a
// default client with a 30 second timeout is used.
func NewClient(baseURL string, creds types.Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = common.HTTPClient(30 * time.Second)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:  httpClient,
		baseURL: trimBaseURL(baseURL),
		creds:   creds,
		now:     time.Now,
	}
}

func trimBaseURL(u string) string {
	return strings.TrimSuffix(u, "/")
}

func (c *Client) logger(ctx context.Context) *slog.Logger {
	return log.Ctx(ctx).With(slog.String("username", c.creds.Username))
}

// Login performs a fresh login, replacing any existing session.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.login(ctx)
}

// Authenticated reports whether the client currently holds a session.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.authenticated
}

// login must be called with c.mu held. The new session only replaces the
// current one once every step succeeded, a failure leaves the client logged
// out.
func (c *Client) login(ctx context.Context) error {
	sess, err := c.handshake(ctx)
	metrics.ObserveLogin(err)
	if err != nil {
		c.sess = session{}
		c.logger(ctx).WarnContext(ctx, "portal login failed", slog.Any("error", err))
		return err
	}
	c.sess = sess
	c.logger(ctx).InfoContext(ctx, "logged in to portal")
	return nil
}

func (c *Client) handshake(ctx context.Context) (session, error) {
	var sess session

	resp, _, err := c.send(ctx, http.MethodGet, loginPagePath, nil, nil, &sess)
	if err != nil {
		return session{}, &TransportError{Step: StepLoginPage, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session{}, &TransportError{Step: StepLoginPage, StatusCode: resp.StatusCode}
	}
	sess.merge(resp.Cookies())

	resp, body, err := c.send(ctx, http.MethodGet, csrfPath, nil, nil, &sess)
	if err != nil {
		return session{}, &TransportError{Step: StepCSRF, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session{}, &TransportError{Step: StepCSRF, StatusCode: resp.StatusCode}
	}
	var csrf struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &csrf); err != nil {
		return session{}, &TransportError{Step: StepCSRF, Err: fmt.Errorf("failed to decode csrf token: %w", err)}
	}
	sess.csrfToken = csrf.Token
	sess.merge(resp.Cookies())
	if sess.csrfHeader() == "" {
		return session{}, &TransportError{Step: StepCSRF, Err: errors.New("portal returned no csrf token")}
	}

	payload, err := json.Marshal(map[string]string{
		"email":    c.creds.Username,
		"password": c.creds.Password,
	})
	if err != nil {
		return session{}, fmt.Errorf("failed to encode login: %w", err)
	}
	resp, _, err = c.send(ctx, http.MethodPost, loginPath, nil, payload, &sess)
	if err != nil {
		return session{}, &TransportError{Step: StepLogin, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return session{}, &AuthError{Reason: "login rejected", StatusCode: resp.StatusCode}
	}
	sess.merge(resp.Cookies())
	sess.authenticated = true
	return sess, nil
}

// send issues a single request with the cookies and csrf header of sess. The
// body is read fully and closed before returning.
func (c *Client) send(ctx context.Context, method, path string, params url.Values, payload []byte, sess *session) (*http.Response, []byte, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, nil, err
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	sess.apply(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, data, nil
}

// Request performs an authenticated request and returns the JSON body. The
// client logs in first if it has no session. If the portal answers 401 the
// client logs in again and retries exactly once.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqErr := func(status int, retried bool, err error) error {
		return &RequestError{Method: method, Path: path, StatusCode: status, Retried: retried, Err: err}
	}

	if c.closed {
		return nil, reqErr(0, false, ErrClientClosed)
	}
	if !c.sess.authenticated {
		if err := c.login(ctx); err != nil {
			return nil, reqErr(0, false, err)
		}
	}

	resp, body, err := c.send(ctx, method, path, params, nil, &c.sess)
	if err != nil {
		metrics.ObserveRequest(0)
		return nil, reqErr(0, false, err)
	}
	metrics.ObserveRequest(resp.StatusCode)

	retried := false
	if resp.StatusCode == http.StatusUnauthorized {
		c.logger(ctx).WarnContext(ctx, "portal session expired, logging in again", slog.String("path", path))
		metrics.IncRelogin()
		if err := c.login(ctx); err != nil {
			return nil, reqErr(resp.StatusCode, false, err)
		}
		retried = true
		resp, body, err = c.send(ctx, method, path, params, nil, &c.sess)
		if err != nil {
			metrics.ObserveRequest(0)
			return nil, reqErr(0, true, err)
		}
		metrics.ObserveRequest(resp.StatusCode)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		c.sess.merge(resp.Cookies())
	}
	if resp.StatusCode != http.StatusOK {
		if retried && resp.StatusCode == http.StatusUnauthorized {
			// the fresh session was rejected too, don't keep using it
			c.sess.authenticated = false
		}
		return nil, reqErr(resp.StatusCode, retried, nil)
	}
	if !json.Valid(body) {
		return nil, reqErr(resp.StatusCode, retried, errors.New("response is not valid JSON"))
	}
	return json.RawMessage(body), nil
}

// Close releases idle connections and forgets the session. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.sess = session{}
	c.client.CloseIdleConnections()
	return nil
}
