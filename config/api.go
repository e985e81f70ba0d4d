package config

import (
	"strings"
	"time"
)

// APIConfig points the front end at the portal backend.
type APIConfig struct {
	// BaseURL is the backend root; /auth, /patients, ... are resolved against it.
	BaseURL   string        `env:"PORTAL_API_URL"        envDefault:"http://localhost:8000"`
	Timeout   time.Duration `env:"PORTAL_API_TIMEOUT"    envDefault:"15s"`
	UserAgent string        `env:"PORTAL_API_USER_AGENT" envDefault:"dicom-portal"`
}

// Sanitize applies guardrails to API configuration values.
func (c *APIConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8000"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	c.UserAgent = strings.TrimSpace(c.UserAgent)
	if c.UserAgent == "" {
		c.UserAgent = "dicom-portal"
	}
}
