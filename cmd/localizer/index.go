package main

import (
	"context"

	"github.com/spf13/cobra"

	"basegraph.app/localizer/internal/indexer"
	"basegraph.app/localizer/internal/model"
)

func indexCmd() *cobra.Command {
	var projectNames []string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the vector collection of a project",
		Long: `Walk the source tree (vector_type code) or the details tree (vector_type
semantic_summary) and upsert one document per file into the project's collection.

Without --project every configured project is indexed.

Examples:
  localizer index --project se-agent
  localizer index`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			if len(projectNames) == 0 {
				projectNames = e.services.ProjectNames()
			}

			type result struct {
				Project    string           `json:"project"`
				VectorType model.VectorType `json:"vector_type"`
				Stats      indexer.Stats    `json:"stats"`
			}
			results := make([]result, 0, len(projectNames))

			for _, name := range projectNames {
				p, err := e.services.Project(name)
				if err != nil {
					return err
				}
				x, err := e.services.Indexer(p)
				if err != nil {
					return err
				}
				stats, err := x.Run(ctx)
				if err != nil {
					return err
				}
				results = append(results, result{Project: p.Name, VectorType: p.VectorType, Stats: stats})
			}
			return writeJSON(results)
		}),
	}

	cmd.Flags().StringSliceVarP(&projectNames, "project", "p", nil, "Project names (default: all)")

	return cmd
}
