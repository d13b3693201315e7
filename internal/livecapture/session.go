// Package livecapture tracks meetings being captured live by the meeting
// bot. Unlike the queued pipeline, this path is driven by externally
// pushed audio and caption chunks; finalization feeds the same result
// store the queued workers write to.
package livecapture

import (
	"fmt"
	"time"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/meetings"
)

// Session statuses, in lifecycle order.
const (
	StatusBotJoining   = "bot_joining"
	StatusBotInMeeting = "bot_in_meeting"
	StatusRecording    = "recording"
	StatusProcessing   = "processing"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// AudioChunkMeta is the lightweight index entry kept per ingested chunk.
// The chunk bytes themselves are accumulated separately so the index stays
// cheap to inspect.
type AudioChunkMeta struct {
	Index     int       `json:"index"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// PreviewText is one low-latency partial transcription of a chunk.
type PreviewText struct {
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Caption is one caption line scraped by the bot from the meeting UI.
type Caption struct {
	Index     int       `json:"index"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the state of one live capture. Exactly one session exists
// per meeting id at any time.
type Session struct {
	SessionID string `json:"sessionId"`
	MeetingID string `json:"meetingId"`
	UserID    string `json:"userId,omitempty"`
	Status    string `json:"status"`

	AudioChunks  []AudioChunkMeta `json:"audioChunks,omitempty"`
	PreviewTexts []PreviewText    `json:"previewTexts,omitempty"`
	Captions     []Caption        `json:"captions,omitempty"`

	// AccumulatedText is the rolling live preview. It is never treated
	// as the authoritative transcript.
	AccumulatedText string `json:"accumulatedText,omitempty"`

	// CompleteAudio holds the full capture when the bot delivers audio.
	CompleteAudio []byte `json:"completeAudio,omitempty"`

	// Result caches the finalize output so redelivered finalize calls
	// return identical state.
	Result *meetings.Transcript `json:"result,omitempty"`
	JobID  string               `json:"jobId,omitempty"`
	Error  string               `json:"error,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// clone deep-copies the session so callers can read it without racing
// the manager's read-modify-write cycle.
func (s *Session) clone() *Session {
	copied := *s
	copied.AudioChunks = append([]AudioChunkMeta(nil), s.AudioChunks...)
	copied.PreviewTexts = append([]PreviewText(nil), s.PreviewTexts...)
	copied.Captions = append([]Caption(nil), s.Captions...)
	copied.CompleteAudio = append([]byte(nil), s.CompleteAudio...)
	if s.Result != nil {
		result := *s.Result
		copied.Result = &result
	}
	return &copied
}

// Terminal reports whether the session reached a terminal status.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// transition moves the session to a new status if the move is legal.
func (s *Session) transition(to string) error {
	allowed := map[string][]string{
		StatusBotJoining:   {StatusBotInMeeting, StatusRecording, StatusProcessing, StatusFailed},
		StatusBotInMeeting: {StatusRecording, StatusProcessing, StatusFailed},
		StatusRecording:    {StatusProcessing, StatusFailed},
		StatusProcessing:   {StatusCompleted, StatusFailed},
	}
	for _, next := range allowed[s.Status] {
		if next == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("illegal session transition %s -> %s", s.Status, to)
}

// markRecording latches the recording start on first received data.
func (s *Session) markRecording(now time.Time) error {
	if s.Status == StatusRecording {
		return nil
	}
	if err := s.transition(StatusRecording); err != nil {
		return err
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	return nil
}
