package model

import "time"

// ProjectSecret is an encrypted-at-rest environment value pushed to the
// compute platform at deploy time.
type ProjectSecret struct {
	ProjectID  string
	Key        string
	CipherText string
	CreatedAt  time.Time
}

// ConversationMessage is the assistant-visible log entry appended after a
// build or iteration (including the best-effort failure note).
type ConversationMessage struct {
	ID             string
	ConversationID string
	Role           string // "user" | "assistant"
	Content        string
	CreatedAt      time.Time
}
