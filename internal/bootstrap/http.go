package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	portal "github.com/target/dicom-portal"
	"github.com/target/dicom-portal/config"
	httpx "github.com/target/dicom-portal/internal/http"
)

const shutdownWaitTimeout = 10 * time.Second

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config *config.AppConfig
	Portal *Portal
	Logger *slog.Logger
}

// TemplateFS returns the screen templates: from disk in dev mode for hot reloading,
// embedded otherwise.
func TemplateFS(isDev bool) (fs.FS, error) {
	if isDev {
		return os.DirFS(portal.TemplateDir), nil
	}
	sub, err := fs.Sub(portal.TemplateFS, portal.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("open embedded templates: %w", err)
	}
	return sub, nil
}

// BuildHTTPHandler builds the UI router wrapped in the logging and recovery middleware.
func BuildHTTPHandler(cfg *HTTPServerConfig) (http.Handler, error) {
	if cfg == nil || cfg.Config == nil || cfg.Portal == nil {
		return nil, errors.New("http server config, app config and portal are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	templates, err := TemplateFS(cfg.Config.IsDev)
	if err != nil {
		return nil, err
	}

	router, err := httpx.NewRouter(httpx.RouterServices{
		Session:      cfg.Portal.Session,
		Resources:    cfg.Portal.Resources,
		Metadata:     cfg.Portal.Metadata,
		TemplateFS:   templates,
		CookieDomain: cfg.Config.HTTP.CookieDomain,
		LoginRate:    cfg.Config.HTTP.LoginRate,
		LoginBurst:   cfg.Config.HTTP.LoginBurst,
		MaxBodyBytes: cfg.Config.HTTP.MaxUploadBytes(),
		IsDev:        cfg.Config.IsDev,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	// Order: Recover -> Logging -> Router
	h := httpx.Logging(logger)(router)
	h = httpx.Recover(logger)(h)
	return h, nil
}

// StartHTTPServer creates and starts the HTTP server. Listen failures are
// delivered on the returned channel.
func StartHTTPServer(cfg *HTTPServerConfig) (*http.Server, <-chan error, error) {
	handler, err := BuildHTTPHandler(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := cfg.Config.HTTP.Addr
	// Guard against empty addr to avoid listening on every interface
	if addr == "" {
		addr = "127.0.0.1:4173"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute, // exports stream large archives
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	return server, errCh, nil
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(parent, shutdownWaitTimeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}

// RunUIServer restores the session in the background, serves the UI and blocks
// until a shutdown signal arrives, ctx ends or the server fails.
func RunUIServer(ctx context.Context, cfg *HTTPServerConfig) error {
	server, errCh, err := StartHTTPServer(cfg)
	if err != nil {
		return err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The loading screen shows until this resolves.
	go cfg.Portal.Session.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
		logger.Info("shutting down...")
	case <-ctx.Done():
		logger.Info("context done, shutting down...")
	case runErr = <-errCh:
		logger.Error("HTTP server failed", "error", runErr)
	}

	stopErr := ShutdownHTTPServer(ShutdownConfig{Context: context.WithoutCancel(ctx), Server: server, Logger: logger})
	return errors.Join(runErr, stopErr)
}
