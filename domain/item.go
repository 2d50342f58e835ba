package domain

import "time"

// Question is the public projection of a queued question.
type Question struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	AuthorName string     `json:"authorName"`
	Answered   bool       `json:"answered"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	Votes      int        `json:"votes"`
	HasVoted   *bool      `json:"hasVoted,omitempty"`
	Priority   int        `json:"priority"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Task is the public projection of a queued task.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// DeletedItem is what remains visible of an item once it is removed.
type DeletedItem struct {
	ID      string `json:"id"`
	Preview string `json:"preview"`
}
