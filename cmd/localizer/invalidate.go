package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func invalidateCmd() *cobra.Command {
	var (
		projectName string
		all         bool
	)

	cmd := &cobra.Command{
		Use:   "invalidate [package...]",
		Short: "Drop cached package details",
		Long: `Drop cached package details so the next localization rebuilds them.

Examples:
  localizer invalidate --project se-agent retrieval summarization
  localizer invalidate --project se-agent --all`,
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("pass package names or --all")
			}

			p, err := e.services.Project(projectName)
			if err != nil {
				return err
			}
			cache := e.services.Cache(p)

			packages := args
			if all {
				if packages, err = cache.ListKeys(ctx); err != nil {
					return err
				}
			}
			for _, pkg := range packages {
				if err := cache.Invalidate(ctx, pkg); err != nil {
					return err
				}
			}

			slog.InfoContext(ctx, "package details invalidated",
				"project", p.Name,
				"packages", len(packages))
			return writeJSON(map[string]any{"project": p.Name, "invalidated": packages})
		}),
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Project name")
	cmd.Flags().BoolVar(&all, "all", false, "Invalidate every cached package")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
