// Package conversation turns an issue thread into the role-tagged message
// sequence every localization prompt is built from.
package conversation

import (
	"errors"
	"strings"

	"basegraph.app/localizer/internal/model"
)

// DefaultMarker is the hidden tag the agent leaves in every comment it posts.
const DefaultMarker = "<!-- SE Agent -->"

var ErrEmptyIssue = errors.New("issue has neither title nor description")

// Builder assigns roles by content, not by author: the agent may post from the
// same account as a human reporter, so only the marker identifies its comments.
type Builder struct {
	marker string
}

func NewBuilder(marker string) *Builder {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Builder{marker: marker}
}

func (b *Builder) Marker() string {
	return b.marker
}

// IsAgent reports whether content was posted by the agent.
func (b *Builder) IsAgent(content string) bool {
	return strings.Contains(content, b.marker)
}

// Build returns the conversation for issue. The first message is the issue
// itself as "<title>\n\n<description>"; each comment follows in thread order.
func (b *Builder) Build(issue model.Issue) (model.Conversation, error) {
	title := strings.TrimSpace(issue.Title)
	description := strings.TrimSpace(issue.Description)
	if title == "" && description == "" {
		return model.Conversation{}, ErrEmptyIssue
	}

	messages := make([]model.Message, 0, 1+len(issue.Comments))
	messages = append(messages, model.Message{
		Role:    model.RoleUser,
		Content: title + "\n\n" + description,
	})

	for _, c := range issue.Comments {
		role := model.RoleUser
		if b.IsAgent(c.Body) {
			role = model.RoleAgent
		}
		messages = append(messages, model.Message{Role: role, Content: c.Body, Author: c.Author})
	}

	return model.Conversation{Title: title, Messages: messages}, nil
}
