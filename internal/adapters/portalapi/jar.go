package portalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/target/dicom-portal/internal/ports"
	"golang.org/x/net/publicsuffix"
)

var _ http.CookieJar = (*PersistentJar)(nil)

// DefaultCookieKey is the client storage key holding the persisted cookies.
const DefaultCookieKey = "portal.cookies"

const persistTimeout = 5 * time.Second

// JarConfig configures PersistentJar.
type JarConfig struct {
	BaseURL string
	Storage ports.ClientStorage
	// Key overrides DefaultCookieKey.
	Key    string
	Logger *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// storedCookie is the persisted form of one cookie. A zero Expires marks a session cookie.
type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

func (c storedCookie) key() string { return c.Name + ";" + c.Domain + ";" + c.Path }

// PersistentJar is an http.CookieJar applying public-suffix domain rules whose
// contents for the backend survive restarts through ClientStorage.
type PersistentJar struct {
	base    *url.URL
	storage ports.ClientStorage
	key     string
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	inner   *cookiejar.Jar
	entries map[string]storedCookie
}

// NewPersistentJar returns an empty jar; call Load to restore persisted cookies.
func NewPersistentJar(cfg JarConfig) (*PersistentJar, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}
	inner, err := newCookieJar()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &PersistentJar{
		base:    base,
		storage: cfg.Storage,
		key:     fallbackString(strings.TrimSpace(cfg.Key), DefaultCookieKey),
		logger:  logger.With("component", "cookie_jar"),
		now:     now,
		inner:   inner,
		entries: make(map[string]storedCookie),
	}, nil
}

func newCookieJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// Load restores persisted cookies, dropping expired ones. A corrupt entry is
// logged and discarded rather than failing startup.
func (j *PersistentJar) Load(ctx context.Context) error {
	raw, err := j.storage.Get(ctx, j.key)
	if errors.Is(err, ports.ErrStorageKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cookies: %w", err)
	}

	var stored []storedCookie
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		j.logger.WarnContext(ctx, "discarding unreadable persisted cookies", "error", err)
		if delErr := j.storage.Delete(ctx, j.key); delErr != nil {
			return fmt.Errorf("discard cookies: %w", delErr)
		}
		return nil
	}

	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()
	restored := make([]*http.Cookie, 0, len(stored))
	for _, sc := range stored {
		if sc.Name == "" || (!sc.Expires.IsZero() && !sc.Expires.After(now)) {
			continue
		}
		j.entries[sc.key()] = sc
		restored = append(restored, &http.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   sc.Domain,
			Path:     sc.Path,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HTTPOnly,
		})
	}
	j.inner.SetCookies(j.base, restored)
	j.logger.DebugContext(ctx, "cookies restored", "count", len(restored))
	return nil
}

// SetCookies implements http.CookieJar. Cookies for the backend are mirrored to storage.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)
	if !strings.EqualFold(u.Hostname(), j.base.Hostname()) {
		return
	}

	now := j.now()
	changed := false
	for _, c := range cookies {
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(strings.ToLower(c.Domain), "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if sc.Path == "" || !strings.HasPrefix(sc.Path, "/") {
			sc.Path = "/"
		}

		switch {
		case c.MaxAge < 0:
			delete(j.entries, sc.key())
			changed = true
			continue
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			if !c.Expires.After(now) {
				delete(j.entries, sc.key())
				changed = true
				continue
			}
			sc.Expires = c.Expires.UTC()
		}
		j.entries[sc.key()] = sc
		changed = true
	}

	if changed {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := j.persistLocked(ctx); err != nil {
			j.logger.WarnContext(ctx, "persist cookies failed", "error", err)
		}
	}
}

// Cookies implements http.CookieJar.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// Value returns the value of the named cookie as it would be sent to the backend.
func (j *PersistentJar) Value(name string) (string, bool) {
	for _, c := range j.Cookies(j.base) {
		if c.Name == name && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// Clear drops every cookie, in memory and in storage.
func (j *PersistentJar) Clear(ctx context.Context) error {
	inner, err := newCookieJar()
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = inner
	j.entries = make(map[string]storedCookie)
	if err := j.storage.Delete(ctx, j.key); err != nil {
		return fmt.Errorf("clear persisted cookies: %w", err)
	}
	return nil
}

func (j *PersistentJar) persistLocked(ctx context.Context) error {
	if len(j.entries) == 0 {
		return j.storage.Delete(ctx, j.key)
	}
	out := make([]storedCookie, 0, len(j.entries))
	for _, sc := range j.entries {
		out = append(out, sc)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].key() < out[b].key() })
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	return j.storage.Set(ctx, j.key, string(raw))
}
