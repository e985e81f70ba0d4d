package portalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/ports"
	"golang.org/x/oauth2"
)

var _ ports.MetadataSource = (*Resources)(nil)

// ErrNoAccessToken is returned before any network call when no session is held.
var ErrNoAccessToken = errors.New("no access token: sign in first")

// SessionTokens exposes the in-memory credentials of the current session.
type SessionTokens interface {
	AccessToken() string
	CSRFToken() string
}

// sessionTokenSource adapts SessionTokens to oauth2.TokenSource. Expiry is left
// zero: renewal is the session store's job, not the transport's.
type sessionTokenSource struct {
	tokens SessionTokens
}

func (s sessionTokenSource) Token() (*oauth2.Token, error) {
	tok := s.tokens.AccessToken()
	if tok == "" {
		return nil, ErrNoAccessToken
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// csrfTransport adds X-CSRF-Token to state-changing requests.
type csrfTransport struct {
	base   http.RoundTripper
	tokens SessionTokens
}

func (t csrfTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return t.base.RoundTrip(req)
	}
	csrf := t.tokens.CSRFToken()
	if csrf == "" || req.Header.Get(CSRFHeader) != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(CSRFHeader, csrf)
	return t.base.RoundTrip(clone)
}

// ResourcesConfig configures Resources.
type ResourcesConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Tokens    SessionTokens
	// Jar is shared with the auth client so the csrf cookie accompanies the header.
	Jar       http.CookieJar
	Transport http.RoundTripper
}

// Resources is the bearer-authenticated client for the dashboard endpoints.
type Resources struct {
	req *requester
}

// NewResources builds a Resources client. Tokens is typically the session store.
func NewResources(cfg ResourcesConfig) (*Resources, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token provider is required")
	}

	baseTransport := cfg.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	transport := &oauth2.Transport{
		Source: sessionTokenSource{tokens: cfg.Tokens},
		Base:   csrfTransport{base: baseTransport, tokens: cfg.Tokens},
	}

	return &Resources{req: &requester{
		baseURL:   base,
		http:      &http.Client{Timeout: timeoutOr(cfg.Timeout), Jar: cfg.Jar, Transport: transport},
		userAgent: fallbackString(strings.TrimSpace(cfg.UserAgent), defaultUserAgent),
	}}, nil
}

// ListPatients returns the first page of patients.
func (r *Resources) ListPatients(ctx context.Context) ([]Patient, error) {
	var out []Patient
	if err := r.req.do(ctx, request{method: http.MethodGet, path: "/patients"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchPatients matches name, external id or condition.
func (r *Resources) SearchPatients(ctx context.Context, query string) ([]Patient, error) {
	q := url.Values{}
	if query = strings.TrimSpace(query); query != "" {
		q.Set("query", query)
	}
	var out []Patient
	if err := r.req.do(ctx, request{method: http.MethodGet, path: "/patients/search", query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resources) ListPatientImages(ctx context.Context, patientID int64) ([]DicomImage, error) {
	var out []DicomImage
	path := "/patients/" + strconv.FormatInt(patientID, 10) + "/images"
	if err := r.req.do(ctx, request{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InstanceMetadata returns the DICOM JSON metadata document of one instance.
func (r *Resources) InstanceMetadata(ctx context.Context, instanceID string) (json.RawMessage, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, errors.New("instance id is required")
	}
	var out json.RawMessage
	path := "/patients/instances/" + url.PathEscape(instanceID) + "/metadata"
	if err := r.req.do(ctx, request{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportPatients streams the ZIP archive for patientIDs into w and returns the bytes written.
func (r *Resources) ExportPatients(ctx context.Context, patientIDs []int64, w io.Writer) (int64, error) {
	if len(patientIDs) == 0 {
		return 0, errors.New("at least one patient id is required")
	}
	resp, err := r.req.send(ctx, request{
		method: http.MethodPost,
		path:   "/patients/export",
		body:   exportRequest{PatientIDs: patientIDs},
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("copy export archive: %w", err)
	}
	return n, nil
}

// ListUsers is admin-only on the backend.
func (r *Resources) ListUsers(ctx context.Context) ([]domainsession.User, error) {
	var out []userDTO
	if err := r.req.do(ctx, request{method: http.MethodGet, path: "/users"}, &out); err != nil {
		return nil, err
	}
	users := make([]domainsession.User, 0, len(out))
	for _, u := range out {
		users = append(users, u.toDomain())
	}
	return users, nil
}

func (r *Resources) ListGroups(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := r.req.do(ctx, request{method: http.MethodGet, path: "/groups"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resources) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := r.req.do(ctx, request{method: http.MethodGet, path: "/stats"}, &out)
	return out, err
}

// Health shares the bearer transport, so it also needs a signed-in session.
func (r *Resources) Health(ctx context.Context) (Health, error) {
	var out Health
	err := r.req.do(ctx, request{method: http.MethodGet, path: "/health"}, &out)
	return out, err
}
