package meetings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	meetingKeyPrefix = "meeting:"
	logKeySuffix     = ":log"
)

// Hash field names. Processing state lives in individual fields so updates
// can be applied with HSET instead of rewriting the whole record.
const (
	fieldUserID       = "user_id"
	fieldArtifactID   = "artifact_id"
	fieldStatus       = "status"
	fieldCreatedAt    = "created_at"
	fieldJobID        = "job_id"
	fieldQueuedAt     = "queued_at"
	fieldStartedAt    = "started_at"
	fieldUpdatedAt    = "updated_at"
	fieldStage        = "stage"
	fieldChunkCurrent = "chunk_current"
	fieldChunkTotal   = "chunk_total"
	fieldRetryCount   = "retry_count"
	fieldErrorMessage = "error_message"
	fieldResult       = "result"
	fieldQuarantineID = "quarantine_id"
)

// RedisStore keeps meeting records in Redis hashes with an append-only
// list per meeting for the processing log.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get loads a meeting, or nil when the id is unknown.
func (s *RedisStore) Get(ctx context.Context, meetingID string) (*Meeting, error) {
	if meetingID == "" {
		return nil, fmt.Errorf("meetingID is required")
	}
	fields, err := s.rdb.HGetAll(ctx, meetingKey(meetingID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	meeting := &Meeting{
		ID:           meetingID,
		UserID:       fields[fieldUserID],
		ArtifactID:   fields[fieldArtifactID],
		Status:       fields[fieldStatus],
		QuarantineID: fields[fieldQuarantineID],
		CreatedAt:    parseTime(fields[fieldCreatedAt]),
		Processing: ProcessingState{
			JobID:        fields[fieldJobID],
			QueuedAt:     parseTime(fields[fieldQueuedAt]),
			StartedAt:    parseTime(fields[fieldStartedAt]),
			UpdatedAt:    parseTime(fields[fieldUpdatedAt]),
			CurrentStage: fields[fieldStage],
			Chunk: ChunkInfo{
				Current: parseInt(fields[fieldChunkCurrent]),
				Total:   parseInt(fields[fieldChunkTotal]),
			},
			RetryCount:   parseInt(fields[fieldRetryCount]),
			ErrorMessage: fields[fieldErrorMessage],
		},
	}

	if raw := fields[fieldResult]; raw != "" {
		var result Transcript
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("decode result for meeting %s: %w", meetingID, err)
		}
		meeting.Result = &result
	}

	return meeting, nil
}

// Put creates or replaces a meeting record.
func (s *RedisStore) Put(ctx context.Context, meeting *Meeting) error {
	if meeting == nil || meeting.ID == "" {
		return fmt.Errorf("meeting with id is required")
	}
	createdAt := meeting.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := meeting.Status
	if status == "" {
		status = StatusPending
	}
	values := map[string]any{
		fieldUserID:     meeting.UserID,
		fieldArtifactID: meeting.ArtifactID,
		fieldStatus:     status,
		fieldCreatedAt:  formatTime(createdAt),
	}
	return s.rdb.HSet(ctx, meetingKey(meeting.ID), values).Err()
}

// SetStatus updates the processing status field.
func (s *RedisStore) SetStatus(ctx context.Context, meetingID, status string) error {
	return s.rdb.HSet(ctx, meetingKey(meetingID), fieldStatus, status).Err()
}

// SetArtifact points the meeting at its recording artifact.
func (s *RedisStore) SetArtifact(ctx context.Context, meetingID, artifactID string) error {
	return s.rdb.HSet(ctx, meetingKey(meetingID), fieldArtifactID, artifactID).Err()
}

// UpdateProcessing applies a partial HSET over the processing fields.
// Only non-nil fields are written.
func (s *RedisStore) UpdateProcessing(ctx context.Context, meetingID string, update ProcessingUpdate) error {
	values := map[string]any{
		fieldUpdatedAt: formatTime(time.Now().UTC()),
	}
	if update.JobID != nil {
		values[fieldJobID] = *update.JobID
	}
	if update.QueuedAt != nil {
		values[fieldQueuedAt] = formatTime(*update.QueuedAt)
	}
	if update.StartedAt != nil {
		values[fieldStartedAt] = formatTime(*update.StartedAt)
	}
	if update.CurrentStage != nil {
		values[fieldStage] = *update.CurrentStage
	}
	if update.Chunk != nil {
		values[fieldChunkCurrent] = strconv.Itoa(update.Chunk.Current)
		values[fieldChunkTotal] = strconv.Itoa(update.Chunk.Total)
	}
	if update.ErrorMessage != nil {
		values[fieldErrorMessage] = *update.ErrorMessage
	}
	return s.rdb.HSet(ctx, meetingKey(meetingID), values).Err()
}

// IncrementRetry atomically bumps the retry counter.
func (s *RedisStore) IncrementRetry(ctx context.Context, meetingID string) (int, error) {
	n, err := s.rdb.HIncrBy(ctx, meetingKey(meetingID), fieldRetryCount, 1).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ResetRetries zeroes the retry counter.
func (s *RedisStore) ResetRetries(ctx context.Context, meetingID string) error {
	return s.rdb.HSet(ctx, meetingKey(meetingID), fieldRetryCount, "0").Err()
}

// AppendLog RPUSHes one JSON-encoded log entry.
func (s *RedisStore) AppendLog(ctx context.Context, meetingID string, entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, logKey(meetingID), payload).Err()
}

// Log returns up to limit most recent entries, oldest first.
func (s *RedisStore) Log(ctx context.Context, meetingID string, limit int) ([]LogEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.rdb.LRange(ctx, logKey(meetingID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode log entry for meeting %s: %w", meetingID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SaveResult stores the finished transcript as a single JSON field.
func (s *RedisStore) SaveResult(ctx context.Context, meetingID string, result *Transcript) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, meetingKey(meetingID), fieldResult, payload).Err()
}

// SetQuarantine records the quarantine location of the source artifact.
func (s *RedisStore) SetQuarantine(ctx context.Context, meetingID, quarantineID string) error {
	return s.rdb.HSet(ctx, meetingKey(meetingID), fieldQuarantineID, quarantineID).Err()
}

func meetingKey(id string) string {
	return meetingKeyPrefix + id
}

func logKey(id string) string {
	return meetingKeyPrefix + id + logKeySuffix
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseInt(value string) int {
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}
