package meetings

import "context"

// Store is the surface of the meeting document store the pipeline depends
// on. Implementations must apply updates as atomic partial writes keyed by
// meeting id.
type Store interface {
	// Get loads a meeting, or returns nil when the id is unknown.
	Get(ctx context.Context, meetingID string) (*Meeting, error)

	// Put creates or replaces a meeting record.
	Put(ctx context.Context, meeting *Meeting) error

	// SetStatus updates the meeting's processing status.
	SetStatus(ctx context.Context, meetingID, status string) error

	// SetArtifact points the meeting at its recording artifact.
	SetArtifact(ctx context.Context, meetingID, artifactID string) error

	// UpdateProcessing applies a partial update to the ProcessingState.
	// The update path is owned by the single worker processing the meeting.
	UpdateProcessing(ctx context.Context, meetingID string, update ProcessingUpdate) error

	// IncrementRetry atomically bumps the retry counter and returns the
	// new value.
	IncrementRetry(ctx context.Context, meetingID string) (int, error)

	// ResetRetries zeroes the retry counter after a successful run.
	ResetRetries(ctx context.Context, meetingID string) error

	// AppendLog appends one processing log entry.
	AppendLog(ctx context.Context, meetingID string, entry LogEntry) error

	// Log returns up to limit most recent log entries, oldest first.
	// limit <= 0 returns the full log.
	Log(ctx context.Context, meetingID string, limit int) ([]LogEntry, error)

	// SaveResult stores the finished transcript.
	SaveResult(ctx context.Context, meetingID string, result *Transcript) error

	// SetQuarantine records where the source artifact was moved after
	// retries were exhausted.
	SetQuarantine(ctx context.Context, meetingID, quarantineID string) error
}
