package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"basegraph.app/localizer/internal/model"
)

func localizeCmd() *cobra.Command {
	var (
		projectName   string
		strategy      string
		topN          int
		issueFile     string
		gitlabProject string
		iid           int
		title         string
		description   string
	)

	cmd := &cobra.Command{
		Use:   "localize",
		Short: "Rank the files an issue most likely concerns",
		Long: `Rank the files an issue most likely concerns.

The issue comes from exactly one of:
  --issue-file   a JSON file {"id","title","description","comments":[{"id","body","author"}]}
  --iid          a GitLab issue (project from --gitlab-project or the project's gitlab_project)
  --title        an ad-hoc issue with an optional --description

Examples:
  localizer localize --project se-agent --iid 42
  localizer localize --project se-agent --title "fix vectorized retrieval" --top-n 3
  localizer localize --project se-agent --issue-file issue.json --strategy semantic_vector_search`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			p, err := e.services.Project(projectName)
			if err != nil {
				return err
			}

			var issue model.Issue
			switch {
			case issueFile != "":
				issue, err = readIssue(issueFile)
			case iid > 0:
				issue, err = fetchIssue(ctx, e, p, gitlabProject, iid)
			case title != "" || description != "":
				issue = model.Issue{ID: "adhoc", Title: title, Description: description}
			default:
				err = fmt.Errorf("one of --issue-file, --iid or --title is required")
			}
			if err != nil {
				return err
			}

			orch, err := e.services.Orchestrator(p)
			if err != nil {
				return err
			}
			suggestions, err := orch.Localize(ctx, issue, strategy, topN)
			if err != nil {
				return err
			}
			if suggestions == nil {
				suggestions = []model.Suggestion{}
			}
			return writeJSON(suggestions)
		}),
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Project name")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Strategy (default: the project's)")
	cmd.Flags().IntVarP(&topN, "top-n", "n", 0, "Maximum suggestions (default: the project's top_n_files)")
	cmd.Flags().StringVar(&issueFile, "issue-file", "", "Read the issue from a JSON file")
	cmd.Flags().StringVar(&gitlabProject, "gitlab-project", "", "GitLab project ID or path")
	cmd.Flags().IntVar(&iid, "iid", 0, "GitLab issue IID")
	cmd.Flags().StringVar(&title, "title", "", "Issue title")
	cmd.Flags().StringVar(&description, "description", "", "Issue description")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func readIssue(path string) (model.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Issue{}, fmt.Errorf("reading issue file: %w", err)
	}
	var issue model.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return model.Issue{}, fmt.Errorf("parsing issue file %s: %w", path, err)
	}
	return issue, nil
}

func fetchIssue(ctx context.Context, e *env, p model.Project, gitlabProject string, iid int) (model.Issue, error) {
	if gitlabProject == "" {
		gitlabProject = p.GitLabProject
	}
	if gitlabProject == "" {
		return model.Issue{}, fmt.Errorf("project %s has no gitlab_project; pass --gitlab-project", p.Name)
	}
	src, err := e.services.IssueSource()
	if err != nil {
		return model.Issue{}, err
	}
	return src.FetchIssue(ctx, gitlabProject, iid)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
