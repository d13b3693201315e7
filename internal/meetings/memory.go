package meetings

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development
// without Redis. Updates follow the same partial-write semantics as the
// Redis implementation.
type MemoryStore struct {
	mu       sync.Mutex
	meetings map[string]*Meeting
	logs     map[string][]LogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meetings: make(map[string]*Meeting),
		logs:     make(map[string][]LogEntry),
	}
}

// Get loads a meeting copy, or nil when unknown.
func (s *MemoryStore) Get(ctx context.Context, meetingID string) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meeting, ok := s.meetings[meetingID]
	if !ok {
		return nil, nil
	}
	copied := *meeting
	if meeting.Result != nil {
		result := *meeting.Result
		copied.Result = &result
	}
	return &copied, nil
}

// Put creates or replaces a meeting record.
func (s *MemoryStore) Put(ctx context.Context, meeting *Meeting) error {
	if meeting == nil || meeting.ID == "" {
		return fmt.Errorf("meeting with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *meeting
	if copied.Status == "" {
		copied.Status = StatusPending
	}
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	s.meetings[meeting.ID] = &copied
	return nil
}

// SetStatus updates the processing status field.
func (s *MemoryStore) SetStatus(ctx context.Context, meetingID, status string) error {
	return s.mutate(meetingID, func(m *Meeting) {
		m.Status = status
	})
}

// SetArtifact points the meeting at its recording artifact.
func (s *MemoryStore) SetArtifact(ctx context.Context, meetingID, artifactID string) error {
	return s.mutate(meetingID, func(m *Meeting) {
		m.ArtifactID = artifactID
	})
}

// UpdateProcessing applies a partial update of the processing state.
func (s *MemoryStore) UpdateProcessing(ctx context.Context, meetingID string, update ProcessingUpdate) error {
	return s.mutate(meetingID, func(m *Meeting) {
		m.Processing.UpdatedAt = time.Now().UTC()
		if update.JobID != nil {
			m.Processing.JobID = *update.JobID
		}
		if update.QueuedAt != nil {
			m.Processing.QueuedAt = *update.QueuedAt
		}
		if update.StartedAt != nil {
			m.Processing.StartedAt = *update.StartedAt
		}
		if update.CurrentStage != nil {
			m.Processing.CurrentStage = *update.CurrentStage
		}
		if update.Chunk != nil {
			m.Processing.Chunk = *update.Chunk
		}
		if update.ErrorMessage != nil {
			m.Processing.ErrorMessage = *update.ErrorMessage
		}
	})
}

// IncrementRetry bumps the retry counter.
func (s *MemoryStore) IncrementRetry(ctx context.Context, meetingID string) (int, error) {
	var count int
	err := s.mutate(meetingID, func(m *Meeting) {
		m.Processing.RetryCount++
		count = m.Processing.RetryCount
	})
	return count, err
}

// ResetRetries zeroes the retry counter.
func (s *MemoryStore) ResetRetries(ctx context.Context, meetingID string) error {
	return s.mutate(meetingID, func(m *Meeting) {
		m.Processing.RetryCount = 0
	})
}

// AppendLog appends one log entry.
func (s *MemoryStore) AppendLog(ctx context.Context, meetingID string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.logs[meetingID] = append(s.logs[meetingID], entry)
	return nil
}

// Log returns up to limit most recent entries, oldest first.
func (s *MemoryStore) Log(ctx context.Context, meetingID string, limit int) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[meetingID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// SaveResult stores the finished transcript.
func (s *MemoryStore) SaveResult(ctx context.Context, meetingID string, result *Transcript) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	copied := *result
	return s.mutate(meetingID, func(m *Meeting) {
		m.Result = &copied
	})
}

// SetQuarantine records the artifact's quarantine location.
func (s *MemoryStore) SetQuarantine(ctx context.Context, meetingID, quarantineID string) error {
	return s.mutate(meetingID, func(m *Meeting) {
		m.QuarantineID = quarantineID
	})
}

func (s *MemoryStore) mutate(meetingID string, fn func(*Meeting)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meeting, ok := s.meetings[meetingID]
	if !ok {
		return fmt.Errorf("meeting not found: %s", meetingID)
	}
	fn(meeting)
	return nil
}
