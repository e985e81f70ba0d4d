package config

import (
	"strings"
	"time"
)

const (
	minRenewFloor      = time.Second
	defaultViewKey     = "portal.view"
	defaultCookieKey   = "portal.cookies"
	defaultRenewSkew   = 30 * time.Second
	defaultMinInterval = 15 * time.Second
)

// SessionConfig controls token renewal and where session state is kept.
type SessionConfig struct {
	// RenewDisabled turns off background access-token renewal.
	RenewDisabled bool `env:"SESSION_RENEW_DISABLED" envDefault:"false"`
	// RenewInterval fixes the renewal period. Zero derives it from the access token's expiry.
	RenewInterval time.Duration `env:"SESSION_RENEW_INTERVAL" envDefault:"0s"`
	// RenewSkew is how long before expiry a derived renewal fires.
	RenewSkew time.Duration `env:"SESSION_RENEW_SKEW" envDefault:"30s"`
	// MinRenewInterval floors derived renewal periods.
	MinRenewInterval time.Duration `env:"SESSION_MIN_RENEW_INTERVAL" envDefault:"15s"`
	// LogoutTimeout bounds the best-effort server-side logout.
	LogoutTimeout time.Duration `env:"SESSION_LOGOUT_TIMEOUT" envDefault:"5s"`

	ViewKey   string `env:"SESSION_VIEW_KEY"   envDefault:"portal.view"`
	CookieKey string `env:"SESSION_COOKIE_KEY" envDefault:"portal.cookies"`
}

// Sanitize applies guardrails to session configuration values.
func (c *SessionConfig) Sanitize() {
	if c.RenewInterval < 0 {
		c.RenewInterval = 0
	}
	if c.RenewInterval > 0 && c.RenewInterval < minRenewFloor {
		c.RenewInterval = minRenewFloor
	}
	if c.RenewSkew <= 0 {
		c.RenewSkew = defaultRenewSkew
	}
	if c.MinRenewInterval < minRenewFloor {
		c.MinRenewInterval = defaultMinInterval
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 5 * time.Second
	}
	c.ViewKey = strings.TrimSpace(c.ViewKey)
	if c.ViewKey == "" {
		c.ViewKey = defaultViewKey
	}
	c.CookieKey = strings.TrimSpace(c.CookieKey)
	if c.CookieKey == "" {
		c.CookieKey = defaultCookieKey
	}
	if c.CookieKey == c.ViewKey {
		c.CookieKey = defaultCookieKey
		if c.ViewKey == defaultCookieKey {
			c.ViewKey = defaultViewKey
		}
	}
}
