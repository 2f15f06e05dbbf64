package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"basegraph.app/localizer/internal/queue"
)

func notifyCmd() *cobra.Command {
	var (
		projectName string
		pkg         string
		removed     bool
	)

	cmd := &cobra.Command{
		Use:   "notify [file...]",
		Short: "Publish codebase change events for the worker",
		Long: `Publish codebase change events to the worker's Redis stream. The worker drops
the affected cached package details and resyncs the vector collection.

Files are repository-relative. --package publishes one package_changed event.

Examples:
  localizer notify --project se-agent src/retrieval/index.py
  localizer notify --project se-agent --removed src/retrieval/old.py
  localizer notify --project se-agent --package retrieval`,
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			p, err := e.services.Project(projectName)
			if err != nil {
				return err
			}

			var events []queue.Event
			if pkg != "" {
				events = append(events, queue.Event{Type: queue.EventPackageChanged, Project: p.Name, Package: pkg})
			}
			typ := queue.EventFileChanged
			if removed {
				typ = queue.EventFileRemoved
			}
			for _, f := range args {
				events = append(events, queue.Event{Type: typ, Project: p.Name, FilePath: f})
			}
			if len(events) == 0 {
				return fmt.Errorf("pass files or --package")
			}

			client, err := e.services.Redis(ctx)
			if err != nil {
				return err
			}
			producer := queue.NewRedisProducer(client, e.cfg.Redis.Stream, slog.Default())
			for _, ev := range events {
				if err := producer.Enqueue(ctx, ev); err != nil {
					return err
				}
			}
			return writeJSON(map[string]any{"project": p.Name, "published": len(events)})
		}),
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Project name")
	cmd.Flags().StringVar(&pkg, "package", "", "Publish a package_changed event for this package")
	cmd.Flags().BoolVar(&removed, "removed", false, "Files were deleted")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
