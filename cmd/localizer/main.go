// Command localizer ranks the files of a documented codebase an issue most
// likely concerns, and maintains the caches and indexes that ranking reads.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"basegraph.app/localizer/common/id"
	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/common/otel"
	"basegraph.app/localizer/core/config"
	"basegraph.app/localizer/internal/service"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every subcommand runs against.
type env struct {
	cfg       config.Config
	services  *service.Services
	telemetry *otel.Telemetry
}

func (e *env) close(ctx context.Context) {
	e.services.Close()
	if e.telemetry != nil {
		if err := e.telemetry.Shutdown(ctx); err != nil {
			slog.WarnContext(ctx, "otel shutdown failed", "error", err)
		}
	}
}

// setup loads configuration and opens services. Logs go to stderr so stdout
// carries only command output.
func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return nil, err
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeCLI)
	if err != nil {
		return nil, fmt.Errorf("initializing otel: %w", err)
	}
	logger.Setup(cfg, os.Stderr)

	if err := id.Init(cfg.NodeID); err != nil {
		return nil, fmt.Errorf("initializing id generator: %w", err)
	}

	services, err := service.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, services: services, telemetry: telemetry}, nil
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "localizer",
		Short: "Localize issues to the files they concern",
		Long: `localizer ranks the packages and files of a documented codebase by how
likely an issue concerns them.

Projects are read from PROJECTS_STORE (one YAML file per project) and models
from LLM_CONFIG_FILE_PATH. Results are printed to stdout as JSON.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		localizeCmd(),
		invalidateCmd(),
		indexCmd(),
		packagesCmd(),
		notifyCmd(),
	)
	return cmd
}

// withEnv adapts a command body to cobra, owning env setup and teardown.
func withEnv(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.close(ctx)
		return fn(ctx, e, args)
	}
}
