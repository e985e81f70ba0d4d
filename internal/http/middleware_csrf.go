package httpx

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultCSRFCookieName is the UI server's own CSRF cookie. It is distinct from the
	// backend's csrf_token cookie, which lives in the API client's jar.
	DefaultCSRFCookieName = "portal_ui_csrf"
	// DefaultCSRFFieldName is the hidden form field every screen form carries.
	DefaultCSRFFieldName = "csrf_token"
	// DefaultCSRFHeaderName is checked before the form field (canonical form).
	DefaultCSRFHeaderName = "X-Csrf-Token"

	csrfTokenBytes = 32
	csrfCookieTTL  = 12 * time.Hour
	// formMemory is how much of a multipart body is kept in memory; the rest
	// spills to temporary files.
	formMemory = 32 << 20
)

var errCSRFValidation = errors.New("CSRF token validation failed")

// CSRFConfig holds configuration for CSRF protection middleware.
type CSRFConfig struct {
	// CookieName overrides DefaultCSRFCookieName.
	CookieName   string
	CookieDomain string
}

type csrfGuard struct {
	cookie string
	domain string
}

// CSRFProtection is a double-submit cookie check. Every request gets a token (issued
// on first visit) in its context; unsafe methods must echo it in the X-Csrf-Token
// header or the csrf_token form field.
func CSRFProtection(cfg CSRFConfig) func(http.Handler) http.Handler {
	g := csrfGuard{cookie: cfg.CookieName, domain: cfg.CookieDomain}
	if g.cookie == "" {
		g.cookie = DefaultCSRFCookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := g.ensureToken(w, r)
			if err != nil {
				http.Error(w, "unable to generate CSRF token", http.StatusInternalServerError)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), csrfTokenKey{}, token))

			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := g.submitted(r, token)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: "request_too_large", Err: err})
				return
			}
			if !ok {
				WriteError(w, ErrorParams{Code: http.StatusForbidden, ErrCode: "csrf_failed", Err: errCSRFValidation})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// ensureToken returns the cookie's token, issuing a fresh one when absent.
func (g csrfGuard) ensureToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(g.cookie); err == nil && c.Value != "" {
		return c.Value, nil
	}

	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("csrf token generation failed: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookie,
		Value:    token,
		Path:     "/",
		Domain:   g.domain,
		HttpOnly: false, // scripted JSON callers echo it in the header
		Secure:   r.TLS != nil || forwardedHTTPS(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(csrfCookieTTL / time.Second),
	})
	return token, nil
}

// submitted reports whether the request echoes cookieToken, header first. A request
// that arrived without the cookie never passes. The error is the form parse
// failure, if any.
func (g csrfGuard) submitted(r *http.Request, cookieToken string) (bool, error) {
	if _, err := r.Cookie(g.cookie); err != nil {
		return false, nil
	}
	if v := r.Header.Get(DefaultCSRFHeaderName); v != "" {
		return tokensEqual(v, cookieToken), nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	switch mediaType {
	case "application/x-www-form-urlencoded":
		err = r.ParseForm()
	case "multipart/form-data":
		err = r.ParseMultipartForm(formMemory)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if v := r.PostFormValue(DefaultCSRFFieldName); v != "" {
		return tokensEqual(v, cookieToken), nil
	}
	return false, nil
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func forwardedHTTPS(r *http.Request) bool {
	for _, proto := range strings.Split(r.Header.Get("X-Forwarded-Proto"), ",") {
		if strings.EqualFold(strings.TrimSpace(proto), "https") {
			return true
		}
	}
	return false
}

type csrfTokenKey struct{}

// GetCSRFToken returns the request's CSRF token; screens embed it in every form they render.
func GetCSRFToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfTokenKey{}).(string)
	return token
}
