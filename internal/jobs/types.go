package jobs

import "time"

// JobState is the client-facing lifecycle of a queued job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// SubmitOptions are the optional per-job overrides accepted on submission.
type SubmitOptions struct {
	Priority    string        // "high" routes to the weighted priority queue
	MaxAttempts int           // overrides the configured attempt cap
	BackoffBase time.Duration // overrides the first retry delay
}

// JobHandle identifies an accepted (or already existing) job.
type JobHandle struct {
	JobID     string    `json:"jobId"`
	MeetingID string    `json:"meetingId"`
	State     JobState  `json:"state"`
	QueuedAt  time.Time `json:"queuedAt"`
}

// JobStatus is the answer to a status poll.
type JobStatus struct {
	JobID           string    `json:"jobId"`
	State           JobState  `json:"state"`
	ProgressPercent int       `json:"progressPercent"`
	Stage           string    `json:"stage,omitempty"`
	AttemptsMade    int       `json:"attemptsMade"`
	FailedReason    string    `json:"failedReason,omitempty"`
	ProcessedAt     time.Time `json:"processedAt,omitzero"`
	FinishedAt      time.Time `json:"finishedAt,omitzero"`
}

// TaskPayload is the asynq task body for one transcription job.
// BackoffBase rides along because the server-level RetryDelayFunc only
// sees the task, not the submit options.
type TaskPayload struct {
	MeetingID   string        `json:"meetingId"`
	BackoffBase time.Duration `json:"backoffBase,omitempty"`
}
