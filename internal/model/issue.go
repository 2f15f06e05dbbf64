package model

import "time"

// Issue is a problem report already normalised from its tracker.
type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Comments    []Comment `json:"comments,omitempty"`
}

// Comment is one note on an issue thread, in posting order.
type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}
