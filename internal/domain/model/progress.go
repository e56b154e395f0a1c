package model

// ErrorProgress is the reserved sentinel broadcast on a terminal failure.
const ErrorProgress = -1

// ProgressEvent is transient: broadcast to live subscribers, never persisted.
// Clients fetch authoritative state separately on (re)connect.
type ProgressEvent struct {
	ProjectID string `json:"project_id"`
	Progress  int    `json:"progress"` // [-1, 100]
	Stage     string `json:"stage"`
	Message   string `json:"message"`
}
