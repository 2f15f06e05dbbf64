package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/summary"
)

func packagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Inspect and publish package summaries",
	}
	cmd.AddCommand(packagesListCmd(), packagesSyncCmd())
	return cmd
}

func packagesListCmd() *cobra.Command {
	var (
		projectName string
		cached      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the packages the localizer knows about",
		Long: `List package summaries from the project's summary source, or with --cached the
packages whose details are currently cached.

Examples:
  localizer packages list --project se-agent
  localizer packages list --project se-agent --cached`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			p, err := e.services.Project(projectName)
			if err != nil {
				return err
			}

			if cached {
				keys, err := e.services.Cache(p).ListKeys(ctx)
				if err != nil {
					return err
				}
				return writeJSON(keys)
			}

			summaries, err := e.services.Summaries(p).List(ctx)
			if err != nil {
				return err
			}
			if summaries == nil {
				summaries = []model.PackageSummary{}
			}
			return writeJSON(summaries)
		}),
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Project name")
	cmd.Flags().BoolVar(&cached, "cached", false, "List cached package details instead")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func packagesSyncCmd() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Publish directory summaries to ArangoDB",
		Long: `Read the markdown summaries in the project's summaries_dir and publish them to
the ArangoDB package_summaries collection, so projects configured with
summary_source: arangodb read the same data.

Example:
  localizer packages sync --project se-agent`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			p, err := e.services.Project(projectName)
			if err != nil {
				return err
			}
			if p.SummariesDir == "" {
				return fmt.Errorf("project %s has no summaries_dir", p.Name)
			}

			summaries, err := summary.NewDirSource(p.SummariesDir).List(ctx)
			if err != nil {
				return err
			}
			dst, err := e.services.ArangoSummaries(ctx, p)
			if err != nil {
				return err
			}
			if err := dst.Publish(ctx, summaries); err != nil {
				return err
			}

			slog.InfoContext(ctx, "package summaries published",
				"project", p.Name,
				"packages", len(summaries))
			return writeJSON(map[string]any{"project": p.Name, "published": len(summaries)})
		}),
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Project name")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
