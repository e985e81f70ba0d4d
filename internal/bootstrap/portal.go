package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/dicom-portal/config"
	"github.com/target/dicom-portal/internal/adapters/portalapi"
	"github.com/target/dicom-portal/internal/observability/statsd"
	"github.com/target/dicom-portal/internal/ports"
	"github.com/target/dicom-portal/internal/service"
)

// PortalDeps contains the inputs needed to assemble the portal front end.
type PortalDeps struct {
	Config  *config.AppConfig
	Storage ports.ClientStorage
	Logger  *slog.Logger
}

// Portal is the composition root shared by the UI server and the CLI.
// Session is the single owner of authentication state; everything else reads from it.
type Portal struct {
	Session   *service.SessionStore
	Auth      *portalapi.Client
	Resources *portalapi.Resources
	Metadata  *service.MetadataInspector
	Metrics   *statsd.Client

	logger *slog.Logger
}

// BuildPortal restores the persisted cookie jar and wires the API clients,
// metrics sink and session store. It does not perform the startup refresh.
func BuildPortal(ctx context.Context, deps PortalDeps) (*Portal, error) {
	if deps.Config == nil {
		return nil, errors.New("portal config is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("portal storage is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	jar, err := portalapi.NewPersistentJar(portalapi.JarConfig{
		BaseURL: cfg.API.BaseURL,
		Storage: deps.Storage,
		Key:     cfg.Session.CookieKey,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}
	if err = jar.Load(ctx); err != nil {
		return nil, err
	}

	auth, err := portalapi.NewClient(portalapi.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
		Jar:       jar,
	})
	if err != nil {
		return nil, fmt.Errorf("build auth client: %w", err)
	}

	metricsSink := buildMetrics(logger, cfg.Observability)

	store, err := service.NewSessionStore(service.SessionStoreOptions{
		API:     auth,
		Storage: deps.Storage,
		Logger:  logger,
		Metrics: metricsSink,
		ViewKey: cfg.Session.ViewKey,
		Renewal: service.RenewalPolicy{
			Disabled:    cfg.Session.RenewDisabled,
			Interval:    cfg.Session.RenewInterval,
			Skew:        cfg.Session.RenewSkew,
			MinInterval: cfg.Session.MinRenewInterval,
		},
		LogoutTimeout: cfg.Session.LogoutTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build session store: %w", err)
	}

	resources, err := portalapi.NewResources(portalapi.ResourcesConfig{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
		Tokens:    store,
		Jar:       jar,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build resources client: %w", err)
	}

	inspector, err := service.NewMetadataInspector(resources)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Portal{
		Session:   store,
		Auth:      auth,
		Resources: resources,
		Metadata:  inspector,
		Metrics:   metricsSink,
		logger:    logger,
	}, nil
}

// Close stops the renewal task and flushes the metrics connection.
func (p *Portal) Close() {
	if p == nil {
		return
	}
	p.Session.Close()
	if err := p.Metrics.Close(); err != nil {
		p.logger.Warn("close statsd client failed", "error", err)
	}
}

// buildMetrics returns a statsd client; a disabled or unreachable sink yields a no-op client.
func buildMetrics(logger *slog.Logger, cfg config.ObservabilityConfig) *statsd.Client {
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  logger,
		})
		if err == nil {
			return client
		}
		logger.Error("failed to initialise statsd client", "error", err)
	}
	client, _ := statsd.NewClient(statsd.Config{Prefix: cfg.Metrics.Prefix, Logger: logger})
	return client
}
