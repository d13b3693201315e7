// Package meetings is the pipeline's view of the meeting document store.
// The store itself is an external collaborator; this package defines the
// narrow read/update surface the pipeline needs plus a Redis-backed
// implementation of it.
package meetings

import "time"

// Processing status values for a meeting's recording.
const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ChunkInfo tracks chunked transcription sub-progress.
type ChunkInfo struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ProcessingState is the mutable progress record owned by the worker
// currently processing the meeting. It is written through partial updates
// only, never whole-document overwrites, so unrelated writers cannot
// clobber worker progress.
type ProcessingState struct {
	JobID        string    `json:"jobId"`
	QueuedAt     time.Time `json:"queuedAt"`
	StartedAt    time.Time `json:"processingStartedAt"`
	UpdatedAt    time.Time `json:"lastUpdatedAt"`
	CurrentStage string    `json:"currentStage"`
	Chunk        ChunkInfo `json:"chunkInfo"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// LogEntry is one append-only processing log record. Entries are never
// mutated or reordered; the newest entry is the source of the "current
// stage/progress" answer for polling clients.
type LogEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Progress  int       `json:"progress"`
	Stage     string    `json:"stage"`
}

// Segment is a timestamped portion of the transcript.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// SpeakerStat summarizes one speaker's share of the meeting.
type SpeakerStat struct {
	Name         string  `json:"name"`
	WordCount    int     `json:"wordCount"`
	EstimatedSec float64 `json:"estimatedSeconds"`
	Percent      float64 `json:"percent"`
}

// Transcript is the finished result written by the worker or by live
// capture finalization.
type Transcript struct {
	Text        string        `json:"text"`
	Language    string        `json:"language,omitempty"`
	DurationSec float64       `json:"durationSeconds,omitempty"`
	Segments    []Segment     `json:"segments,omitempty"`
	Speakers    []SpeakerStat `json:"speakers,omitempty"`
	AINotes     string        `json:"aiNotes,omitempty"`
	ActionItems []string      `json:"actionItems,omitempty"`
	Source      string        `json:"source"` // "recording" or "captions"
}

// Meeting is the subset of the meeting document the pipeline reads and writes.
type Meeting struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId,omitempty"`
	ArtifactID   string          `json:"artifactId,omitempty"`
	Status       string          `json:"status"`
	Processing   ProcessingState `json:"processing"`
	Result       *Transcript     `json:"result,omitempty"`
	QuarantineID string          `json:"quarantineId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ProcessingUpdate is a partial update of ProcessingState. Nil fields are
// left untouched.
type ProcessingUpdate struct {
	JobID        *string
	QueuedAt     *time.Time
	StartedAt    *time.Time
	CurrentStage *string
	Chunk        *ChunkInfo
	ErrorMessage *string
}
