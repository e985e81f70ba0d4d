package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/dicom-portal/config"
	"github.com/target/dicom-portal/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger("info")
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger = bootstrap.InitLogger(cfg.LogLevel)

	logStartupInfo(ctx, logger, &cfg)

	storage, err := bootstrap.BuildClientStorage(ctx, bootstrap.StorageConfig{
		Storage:     cfg.Storage,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close client storage failed", "error", cerr)
		}
	}()

	portal, err := bootstrap.BuildPortal(ctx, bootstrap.PortalDeps{
		Config:  &cfg,
		Storage: storage,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer portal.Close()

	return bootstrap.RunUIServer(ctx, &bootstrap.HTTPServerConfig{
		Config: &cfg,
		Portal: portal,
		Logger: logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting dicom portal ui",
		"api_url", cfg.API.BaseURL,
		"http_addr", cfg.HTTP.Addr,
		"storage_driver", cfg.Storage.Driver,
		"renewal_disabled", cfg.Session.RenewDisabled,
		"dev_mode", cfg.IsDev)
}
