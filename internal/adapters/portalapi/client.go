// Package portalapi talks to the DICOM portal backend: the cookie-based /auth
// endpoints used by the session store and the bearer-protected REST resources
// shown on the dashboards.
package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/ports"
)

var _ ports.AuthAPI = (*Client)(nil)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "dicom-portal"
	maxErrorBody     = 64 << 10
)

// APIError is a non-2xx answer from the backend, decoded from its
// {"error_code": ..., "detail": ...} body when present.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "portal api %d", e.StatusCode)
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Config configures Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Jar holds the backend's cookies. Required: the session lives in the refresh cookie.
	Jar *PersistentJar
	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

// requester performs JSON requests against the backend.
type requester struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
	// raw is sent as-is with contentType instead of JSON-encoding body.
	raw         io.Reader
	contentType string
}

func (r *requester) do(ctx context.Context, in request, out any) error {
	resp, err := r.send(ctx, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", in.method, in.path, err)
	}
	return nil
}

// send returns a 2xx response whose body the caller must close.
func (r *requester) send(ctx context.Context, in request) (*http.Response, error) {
	target := r.baseURL.JoinPath(in.path)
	if len(in.query) > 0 {
		target.RawQuery = in.query.Encode()
	}

	body := in.raw
	contentType := in.contentType
	if body == nil && in.body != nil {
		raw, err := json.Marshal(in.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", in.method, in.path, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, in.method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create %s %s request: %w", in.method, in.path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range in.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", in.method, in.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		apiErr.Detail = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var body struct {
		ErrorCode string          `json:"error_code"`
		Detail    json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code = body.ErrorCode
		var detail string
		if json.Unmarshal(body.Detail, &detail) == nil {
			apiErr.Detail = detail
		} else if len(body.Detail) > 0 {
			// Validation failures carry a list of field errors.
			apiErr.Detail = string(body.Detail)
		}
	}
	if apiErr.Detail == "" {
		if text := strings.TrimSpace(string(raw)); text != "" && !json.Valid(raw) {
			apiErr.Detail = text
		} else {
			apiErr.Detail = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// Client implements ports.AuthAPI over the backend's /auth endpoints.
type Client struct {
	req *requester
	jar *PersistentJar
}

// NewClient builds an auth client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Jar == nil {
		return nil, errors.New("cookie jar is required")
	}

	return &Client{
		req: &requester{
			baseURL:   base,
			http:      &http.Client{Timeout: timeoutOr(cfg.Timeout), Jar: cfg.Jar, Transport: cfg.Transport},
			userAgent: fallbackString(strings.TrimSpace(cfg.UserAgent), defaultUserAgent),
		},
		jar: cfg.Jar,
	}, nil
}

func (c *Client) Login(ctx context.Context, creds domainsession.Credentials) (domainsession.AuthResult, error) {
	var out authResponse
	err := c.req.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequest{Email: creds.Email, Password: creds.Password},
	}, &out)
	if err != nil {
		return domainsession.AuthResult{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) Refresh(ctx context.Context, csrfToken string) (domainsession.AuthResult, error) {
	var out authResponse
	err := c.req.do(ctx, request{
		method:  http.MethodPost,
		path:    "/auth/refresh",
		headers: csrfHeader(csrfToken),
	}, &out)
	if err != nil {
		return domainsession.AuthResult{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) Logout(ctx context.Context, csrfToken string) error {
	return c.req.do(ctx, request{
		method:  http.MethodPost,
		path:    "/auth/logout",
		headers: csrfHeader(csrfToken),
	}, nil)
}

// RecoverCSRFToken reads the csrf cookie the backend left in the jar.
func (c *Client) RecoverCSRFToken() (string, bool) {
	return c.jar.Value(CSRFCookieName)
}

// ForgetCookies empties the jar and its persisted copy.
func (c *Client) ForgetCookies(ctx context.Context) error {
	return c.jar.Clear(ctx)
}

func csrfHeader(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{CSRFHeader: token}
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("base URL must include a host")
	}
	return u, nil
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
