// Package issuesource normalizes tracker issues into model.Issue.
package issuesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"basegraph.app/localizer/internal/model"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

var ErrIssueNotFound = errors.New("issue not found")

const notesPerPage = 100

// GitLab reads issues and their note threads from one GitLab instance.
type GitLab struct {
	client *gitlab.Client
}

// NewGitLab builds a client for baseURL, or gitlab.com when baseURL is empty.
func NewGitLab(baseURL, token string) (*GitLab, error) {
	client, err := newClient(baseURL, token)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &GitLab{client: client}, nil
}

// FetchIssue returns the issue with its user notes in posting order. System
// notes (label changes, assignments) are not part of the conversation.
func (g *GitLab) FetchIssue(ctx context.Context, projectID string, iid int) (model.Issue, error) {
	gitlabIssue, resp, err := g.client.Issues.GetIssue(
		projectID,
		int64(iid),
		nil,
		gitlab.WithContext(ctx),
	)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return model.Issue{}, fmt.Errorf("%s#%d: %w", projectID, iid, ErrIssueNotFound)
		}
		return model.Issue{}, fmt.Errorf("fetching issue from gitlab: %w", err)
	}

	comments, err := g.fetchNotes(ctx, projectID, iid)
	if err != nil {
		return model.Issue{}, err
	}

	slog.DebugContext(ctx, "fetched gitlab issue",
		"project_id", projectID,
		"iid", iid,
		"comments", len(comments))

	return model.Issue{
		ID:          strconv.Itoa(iid),
		Title:       gitlabIssue.Title,
		Description: gitlabIssue.Description,
		Comments:    comments,
	}, nil
}

func (g *GitLab) fetchNotes(ctx context.Context, projectID string, iid int) ([]model.Comment, error) {
	opts := &gitlab.ListIssueNotesOptions{
		OrderBy: gitlab.Ptr("created_at"),
		Sort:    gitlab.Ptr("asc"),
		ListOptions: gitlab.ListOptions{
			Page:    1,
			PerPage: notesPerPage,
		},
	}

	var comments []model.Comment

	for {
		notes, resp, err := g.client.Notes.ListIssueNotes(projectID, int64(iid), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetching notes from gitlab: %w", err)
		}

		for _, n := range notes {
			if c, ok := mapNote(n); ok {
				comments = append(comments, c)
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return comments, nil
}

func mapNote(n *gitlab.Note) (model.Comment, bool) {
	if n == nil || n.System || strings.TrimSpace(n.Body) == "" {
		return model.Comment{}, false
	}

	author := fmt.Sprintf("id:%d", n.Author.ID)
	if n.Author.Username != "" {
		author = n.Author.Username
	}

	c := model.Comment{
		ID:     strconv.FormatInt(n.ID, 10),
		Body:   n.Body,
		Author: author,
	}
	createdAt := n.CreatedAt
	if createdAt == nil {
		createdAt = n.UpdatedAt
	}
	if createdAt != nil {
		c.CreatedAt = *createdAt
	}
	return c, true
}

func newClient(baseURL, token string) (*gitlab.Client, error) {
	if baseURL == "" {
		return gitlab.NewClient(token)
	}
	apiURL := strings.TrimSuffix(baseURL, "/") + "/api/v4"
	return gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
}
