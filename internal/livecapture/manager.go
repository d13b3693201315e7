package livecapture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/meetings"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/notify"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/progress"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/storage"
)

// Scheduler hands a finished audio capture to the queued pipeline. The
// job manager satisfies this without livecapture importing it directly.
type Scheduler interface {
	Schedule(ctx context.Context, meetingID string) (jobID string, err error)
}

// PreviewClient produces a fast partial transcription of one audio chunk.
// Preview failures never fail the ingest that triggered them.
type PreviewClient interface {
	Preview(ctx context.Context, audio io.Reader) (string, error)
}

// Options configures a Manager.
type Options struct {
	Sessions  SessionStore
	Meetings  meetings.Store
	Artifacts storage.Artifacts
	Scheduler Scheduler
	Preview   PreviewClient
	Notifier  notify.Notifier
	Logger    *log.Logger

	// MaxAge bounds the lifetime of any session regardless of status.
	// Sessions older than this are evicted by Sweep. Also used as the
	// store TTL.
	MaxAge time.Duration
}

// Manager owns the live capture lifecycle: one session per meeting,
// audio/caption ingestion, and finalization into the shared result store.
type Manager struct {
	sessions  SessionStore
	meetings  meetings.Store
	artifacts storage.Artifacts
	scheduler Scheduler
	preview   PreviewClient
	notifier  notify.Notifier
	logger    *log.Logger
	maxAge    time.Duration
	now       func() time.Time

	// locks holds one mutex per meeting id. Store calls are atomic
	// individually, not across a read-modify-write cycle, so every
	// session mutation runs under its meeting's mutex.
	locks sync.Map
}

// lockMeeting acquires the meeting's mutex and returns its release func.
func (m *Manager) lockMeeting(meetingID string) func() {
	v, _ := m.locks.LoadOrStore(meetingID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 4 * time.Hour
	}
	return &Manager{
		sessions:  opts.Sessions,
		meetings:  opts.Meetings,
		artifacts: opts.Artifacts,
		scheduler: opts.Scheduler,
		preview:   opts.Preview,
		notifier:  notifier,
		logger:    logger,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Start creates the session for a meeting, or returns the existing one
// when a live session is already running. A terminal leftover session is
// replaced so the meeting can be captured again.
func (m *Manager) Start(ctx context.Context, meetingID, userID string) (*Session, error) {
	if meetingID == "" {
		return nil, fmt.Errorf("meetingID is required")
	}
	meeting, err := m.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("load meeting %s: %w", meetingID, err)
	}
	if meeting == nil {
		return nil, fmt.Errorf("meeting not found: %s", meetingID)
	}

	defer m.lockMeeting(meetingID)()

	existing, err := m.sessions.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Terminal() {
		return existing, nil
	}

	session := &Session{
		SessionID: uuid.New().String(),
		MeetingID: meetingID,
		UserID:    userID,
		Status:    StatusBotJoining,
		CreatedAt: m.now().UTC(),
	}
	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		return nil, err
	}

	m.report(ctx, meetingID, progress.StageBotConnecting, 0, "bot capture requested")
	m.report(ctx, meetingID, progress.StageBotJoining,
		progress.BotStages.Percent(progress.StageBotJoining, 0), "bot joining meeting")
	return session, nil
}

// MarkJoined records that the bot entered the meeting.
func (m *Manager) MarkJoined(ctx context.Context, meetingID string) (*Session, error) {
	defer m.lockMeeting(meetingID)()

	session, err := m.activeSession(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusBotInMeeting || session.Status == StatusRecording {
		return session, nil
	}
	if err := session.transition(StatusBotInMeeting); err != nil {
		return nil, err
	}
	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		return nil, err
	}
	m.report(ctx, meetingID, progress.StageBotJoining,
		progress.BotStages.Percent(progress.StageBotJoining, 1), "bot joined meeting")
	return session, nil
}

// IngestAudio appends one audio chunk to the session buffer. The first
// chunk moves the session to recording. A preview transcription is
// attempted when a preview client is configured; its failure is logged
// and the chunk is kept regardless.
func (m *Manager) IngestAudio(ctx context.Context, meetingID string, index int, chunk []byte) (*Session, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("empty audio chunk")
	}
	defer m.lockMeeting(meetingID)()

	session, err := m.activeSession(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	wasRecording := session.Status == StatusRecording
	if err := session.markRecording(now); err != nil {
		return nil, err
	}

	session.AudioChunks = append(session.AudioChunks, AudioChunkMeta{
		Index:     index,
		Size:      len(chunk),
		Timestamp: now,
	})
	session.CompleteAudio = append(session.CompleteAudio, chunk...)

	if m.preview != nil {
		text, err := m.preview.Preview(ctx, bytes.NewReader(chunk))
		if err != nil {
			m.logger.Printf("livecapture: preview chunk %d meeting=%s: %v", index, meetingID, err)
		} else if text = strings.TrimSpace(text); text != "" {
			session.PreviewTexts = append(session.PreviewTexts, PreviewText{
				Index:     index,
				Text:      text,
				Timestamp: now,
			})
			if session.AccumulatedText != "" {
				session.AccumulatedText += " "
			}
			session.AccumulatedText += text
		}
	}

	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		return nil, err
	}
	if !wasRecording {
		m.report(ctx, meetingID, progress.StageBotRecording,
			progress.BotStages.Percent(progress.StageBotRecording, 0), "recording started")
	}
	return session, nil
}

// IngestCaption appends one scraped caption line. Captions also count as
// received data and start the recording phase.
func (m *Manager) IngestCaption(ctx context.Context, meetingID string, caption Caption) (*Session, error) {
	if strings.TrimSpace(caption.Text) == "" {
		return nil, fmt.Errorf("empty caption")
	}
	defer m.lockMeeting(meetingID)()

	session, err := m.activeSession(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	wasRecording := session.Status == StatusRecording
	if err := session.markRecording(now); err != nil {
		return nil, err
	}
	if caption.Timestamp.IsZero() {
		caption.Timestamp = now
	}

	session.Captions = append(session.Captions, caption)
	if session.AccumulatedText != "" {
		session.AccumulatedText += " "
	}
	session.AccumulatedText += strings.TrimSpace(caption.Text)

	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		return nil, err
	}
	if !wasRecording {
		m.report(ctx, meetingID, progress.StageBotRecording,
			progress.BotStages.Percent(progress.StageBotRecording, 0), "recording started")
	}
	return session, nil
}

// Preview returns the current session snapshot, including the rolling
// accumulated text. The snapshot is advisory and may lag ingestion.
func (m *Manager) Preview(ctx context.Context, meetingID string) (*Session, error) {
	session, err := m.sessions.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("no live session for meeting %s", meetingID)
	}
	return session, nil
}

// Finalize ends the capture. With a complete audio buffer the recording
// is persisted as an artifact and handed to the queued pipeline; with
// captions only, the transcript is built synchronously from them. A
// finalize redelivered after completion returns the cached result
// unchanged, and one redelivered while a scheduled job runs returns the
// session still in processing.
func (m *Manager) Finalize(ctx context.Context, meetingID string) (*Session, error) {
	defer m.lockMeeting(meetingID)()

	session, err := m.sessions.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("no live session for meeting %s", meetingID)
	}
	if session.Status == StatusCompleted || session.Status == StatusProcessing {
		return session, nil
	}
	if session.Status == StatusFailed {
		return nil, fmt.Errorf("session for meeting %s already failed", meetingID)
	}

	if err := session.transition(StatusProcessing); err != nil {
		return nil, err
	}
	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		return nil, err
	}

	if len(session.CompleteAudio) > 0 {
		return m.finalizeAudio(ctx, session)
	}
	return m.finalizeCaptions(ctx, session)
}

// finalizeAudio persists the full recording and schedules the queued
// transcription job. The session stays in processing; the queued worker
// owns meeting status from here on.
func (m *Manager) finalizeAudio(ctx context.Context, session *Session) (*Session, error) {
	meetingID := session.MeetingID

	artifactID, err := m.artifacts.Save(ctx, meetingID, bytes.NewReader(session.CompleteAudio))
	if err != nil {
		return m.failSession(ctx, session, fmt.Errorf("persist recording: %w", err))
	}
	if err := m.meetings.SetArtifact(ctx, meetingID, artifactID); err != nil {
		return m.failSession(ctx, session, fmt.Errorf("record artifact: %w", err))
	}

	jobID, err := m.scheduler.Schedule(ctx, meetingID)
	if err != nil {
		return m.failSession(ctx, session, fmt.Errorf("schedule transcription: %w", err))
	}
	session.JobID = jobID

	// The buffer served its purpose; drop it so the stored session stays
	// small while the job runs.
	session.CompleteAudio = nil
	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		return nil, err
	}
	m.report(ctx, meetingID, progress.StageBotRecording,
		progress.BotStages.Percent(progress.StageBotRecording, 1), "recording captured, transcription queued")
	return session, nil
}

// finalizeCaptions builds the caption fallback transcript and completes
// the meeting without a queued job.
func (m *Manager) finalizeCaptions(ctx context.Context, session *Session) (*Session, error) {
	meetingID := session.MeetingID

	if len(session.Captions) == 0 {
		return m.failSession(ctx, session, fmt.Errorf("no audio or captions captured"))
	}

	result := captionTranscript(session.Captions)
	if err := m.meetings.SaveResult(ctx, meetingID, result); err != nil {
		return m.failSession(ctx, session, fmt.Errorf("save transcript: %w", err))
	}
	if err := m.meetings.SetStatus(ctx, meetingID, meetings.StatusCompleted); err != nil {
		return m.failSession(ctx, session, fmt.Errorf("mark completed: %w", err))
	}

	if err := session.transition(StatusCompleted); err != nil {
		return nil, err
	}
	session.Result = result
	session.CompletedAt = m.now().UTC()
	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		return nil, err
	}
	m.report(ctx, meetingID, progress.StageCompleted, 100, "live capture completed")
	return session, nil
}

// Cancel discards the session and its buffers. A queued job already
// scheduled by finalize is not revoked here.
func (m *Manager) Cancel(ctx context.Context, meetingID string) error {
	defer m.lockMeeting(meetingID)()

	session, err := m.sessions.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	if err := m.sessions.Delete(ctx, meetingID); err != nil {
		return err
	}
	m.locks.Delete(meetingID)
	m.notifier.Notify(ctx, meetingID, notify.Event{
		Category: notify.CategorySession,
		Message:  "live capture cancelled",
	})
	return nil
}

// Sweep evicts sessions older than MaxAge, whatever their status, and
// returns how many were removed. Backstop for stores without native TTL.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	sessions, err := m.sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.maxAge)
	removed := 0
	for _, session := range sessions {
		if session.CreatedAt.After(cutoff) {
			continue
		}
		unlock := m.lockMeeting(session.MeetingID)
		err := m.sessions.Delete(ctx, session.MeetingID)
		m.locks.Delete(session.MeetingID)
		unlock()
		if err != nil {
			m.logger.Printf("livecapture: sweep meeting=%s: %v", session.MeetingID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// StartSweeper runs Sweep on a fixed interval until the context ends.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := m.Sweep(ctx)
				if err != nil {
					m.logger.Printf("livecapture: sweep: %v", err)
					continue
				}
				if removed > 0 {
					m.logger.Printf("livecapture: swept %d stale session(s)", removed)
				}
			}
		}
	}()
}

// activeSession loads the session and rejects ingestion once the capture
// left the live phase.
func (m *Manager) activeSession(ctx context.Context, meetingID string) (*Session, error) {
	session, err := m.sessions.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("no live session for meeting %s", meetingID)
	}
	if session.Terminal() || session.Status == StatusProcessing {
		return nil, fmt.Errorf("session for meeting %s is %s", meetingID, session.Status)
	}
	return session, nil
}

// failSession marks both the session and the meeting failed, keeping the
// error on the session for the client to read.
func (m *Manager) failSession(ctx context.Context, session *Session, cause error) (*Session, error) {
	meetingID := session.MeetingID
	session.Error = cause.Error()
	if err := session.transition(StatusFailed); err != nil {
		m.logger.Printf("livecapture: fail transition meeting=%s: %v", meetingID, err)
		session.Status = StatusFailed
	}
	session.CompletedAt = m.now().UTC()
	if err := m.sessions.Put(ctx, session, m.maxAge); err != nil {
		m.logger.Printf("livecapture: store failed session meeting=%s: %v", meetingID, err)
	}
	if err := m.meetings.SetStatus(ctx, meetingID, meetings.StatusFailed); err != nil {
		m.logger.Printf("livecapture: mark meeting failed meeting=%s: %v", meetingID, err)
	}
	m.notifier.Notify(ctx, meetingID, notify.Event{
		Category: notify.CategorySession,
		Message:  cause.Error(),
	})
	return session, cause
}

// report appends one processing log entry and mirrors it to observers.
func (m *Manager) report(ctx context.Context, meetingID, stage string, percent int, message string) {
	entry := meetings.LogEntry{
		Message:   message,
		Timestamp: m.now().UTC(),
		Progress:  percent,
		Stage:     stage,
	}
	if err := m.meetings.AppendLog(ctx, meetingID, entry); err != nil {
		m.logger.Printf("livecapture: append log meeting=%s: %v", meetingID, err)
	}
	m.notifier.Notify(ctx, meetingID, notify.Event{
		Category: notify.CategorySession,
		Stage:    stage,
		Progress: percent,
		Message:  message,
	})
}
