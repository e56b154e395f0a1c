package model

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeBuild     JobType = "build"
	JobTypeDeploy    JobType = "deploy"
	JobTypeMarketing JobType = "marketing"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusDead       JobStatus = "dead"
)

// Job is a unit of queued work. Owned by the queue until claimed; processed
// by at most one worker at a time. Delivery is at-least-once, so everything a
// worker writes must be idempotent.
type Job struct {
	ID          string
	Type        JobType
	Payload     json.RawMessage
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	Timeout     time.Duration
	LastError   string
	AvailableAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BuildPayload is the payload of a build job.
type BuildPayload struct {
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	CorrelationID  string `json:"correlation_id"`
	Model          string `json:"model,omitempty"`
}

// DeployPayload is the payload of a deploy job.
type DeployPayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}

// MarketingPayload is the fire-and-forget follow-up enqueued after a deploy.
type MarketingPayload struct {
	ProjectID     string `json:"project_id"`
	UserID        string `json:"user_id"`
	DeploymentURL string `json:"deployment_url"`
}

// Exhausted reports whether the job has used up its delivery attempts.
func (j *Job) Exhausted() bool { return j.Attempts >= j.MaxAttempts }

// NextDelay is the re-delivery delay after a failed attempt: base × 2^attempts.
func (j *Job) NextDelay(base time.Duration) time.Duration {
	d := base
	for i := 0; i < j.Attempts; i++ {
		d *= 2
	}
	return d
}
