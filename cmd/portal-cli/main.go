package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/target/dicom-portal/config"
	"github.com/target/dicom-portal/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	// restore runs the startup refresh before the command.
	restore bool
	run     commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Portal *bootstrap.Portal
	In     io.Reader
	Out    io.Writer
}

const commandTimeout = 2 * time.Minute

func main() {
	logger := bootstrap.NewLogger(os.Stderr, "warn")

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	// Routine session logs would drown the command output; only debug opts back in.
	if cfg.LogLevel == "debug" {
		logger = bootstrap.NewLogger(os.Stderr, cfg.LogLevel)
	}

	if runErr := execute(context.Background(), logger, cfg, cmd, os.Args[2:]); runErr != nil {
		logger.Error("command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

// execute opens client storage and the portal for one command invocation.
func execute(ctx context.Context, logger *slog.Logger, cfg config.AppConfig, cmd command, args []string) error {
	// The CLI process does not live long enough to need background renewal.
	cfg.Session.RenewDisabled = true

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

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
			logger.Warn("close client storage failed", "error", cerr)
		}
	}()

	portal, err := bootstrap.BuildPortal(ctx, bootstrap.PortalDeps{Config: &cfg, Storage: storage, Logger: logger})
	if err != nil {
		return err
	}
	defer portal.Close()

	return runCommand(&commandContext{
		Ctx:    ctx,
		Logger: logger,
		Config: cfg,
		Portal: portal,
		In:     os.Stdin,
		Out:    os.Stdout,
	}, cmd, args)
}

func runCommand(cmdCtx *commandContext, cmd command, args []string) error {
	if cmd.restore {
		cmdCtx.Portal.Session.Start(cmdCtx.Ctx)
	}
	return cmd.run(cmdCtx, args)
}

func commands() map[string]command {
	return map[string]command{
		"login": {
			name:        "login",
			description: "Sign in and persist the session cookies",
			restore:     true,
			run:         runLogin,
		},
		"whoami": {
			name:        "whoami",
			description: "Show the signed-in account",
			restore:     true,
			run:         runWhoami,
		},
		"refresh": {
			name:        "refresh",
			description: "Renew the access token from the session cookie",
			run:         runRefresh,
		},
		"logout": {
			name:        "logout",
			description: "Sign out locally and on the server",
			restore:     true,
			run:         runLogout,
		},
		"view": {
			name:        "view",
			description: "Select the top-level screen (LOGIN, USER_DASHBOARD, ADMIN_DASHBOARD)",
			restore:     true,
			run:         runView,
		},
		"screen": {
			name:        "screen",
			description: "Print the screen the UI would mount",
			restore:     true,
			run:         runScreen,
		},
		"patients": {
			name:        "patients",
			description: "List patients, or search them with -q",
			restore:     true,
			run:         runPatients,
		},
		"import": {
			name:        "import",
			description: "Create a patient and upload its DICOM files",
			restore:     true,
			run:         runImport,
		},
		"metadata": {
			name:        "metadata",
			description: "Print DICOM metadata of an instance, optionally filtered by a JMESPath expression",
			restore:     true,
			run:         runMetadata,
		},
		"stats": {
			name:        "stats",
			description: "Show portal statistics and backend health (admin)",
			restore:     true,
			run:         runStats,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: portal-cli <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-10s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
