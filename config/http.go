package config

import "strings"

// HTTPConfig contains local UI server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the UI server to. Loopback by default: the server
	// acts for a single signed-in operator.
	Addr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:4173"`

	// CookieDomain is the domain for the UI's own CSRF cookie.
	// Leave empty to use the request domain.
	CookieDomain string `env:"HTTP_COOKIE_DOMAIN" envDefault:""`

	// LoginRate is the sustained number of login submissions allowed per second.
	LoginRate float64 `env:"HTTP_LOGIN_RATE" envDefault:"1"`
	// LoginBurst is the number of login submissions allowed in a burst.
	LoginBurst int `env:"HTTP_LOGIN_BURST" envDefault:"5"`

	// MaxUploadMB caps request bodies, DICOM imports included.
	MaxUploadMB int64 `env:"HTTP_MAX_UPLOAD_MB" envDefault:"512"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.Addr = strings.TrimSpace(h.Addr)
	if h.Addr == "" {
		h.Addr = "127.0.0.1:4173"
	}
	h.CookieDomain = strings.TrimSpace(h.CookieDomain)
	if h.LoginRate <= 0 {
		h.LoginRate = 1
	}
	if h.LoginBurst < 1 {
		h.LoginBurst = 1
	}
	if h.MaxUploadMB <= 0 {
		h.MaxUploadMB = 512
	}
}

// MaxUploadBytes returns MaxUploadMB in bytes.
func (h HTTPConfig) MaxUploadBytes() int64 {
	return h.MaxUploadMB << 20
}
