package model

type Role string

// Conversation role constants.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Author is the comment's poster; empty for the issue message.
	Author string `json:"author,omitempty"`
}

// Conversation is the role-tagged message sequence derived from an issue thread.
// Messages[0] is always the issue itself.
type Conversation struct {
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// Snapshot returns a copy that shares no backing array with c.
func (c Conversation) Snapshot() Conversation {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return Conversation{Title: c.Title, Messages: msgs}
}
