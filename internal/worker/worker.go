// Package worker drives one transcription job from claimed to terminal:
// it streams the recording to the external service, translates each
// service event through the stage progress model, persists incremental
// state and decides between retry and quarantine on failure.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/meetings"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/notify"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/progress"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/storage"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/transcription"
)

// TranscriptionClient is the slice of the transcription service client the
// worker needs. Narrowed to an interface so tests can script event streams.
type TranscriptionClient interface {
	Stream(ctx context.Context, req transcription.StreamRequest) (<-chan transcription.Event, error)
}

// Options tunes a Worker.
type Options struct {
	MaxAttempts       int
	HeartbeatInterval time.Duration
	DispatchPerMinute int
}

// Worker executes transcription jobs. One Worker instance is shared by all
// queue handler slots; per-job state lives in a run.
type Worker struct {
	meetings  meetings.Store
	artifacts storage.Artifacts
	client    TranscriptionClient
	notifier  notify.Notifier
	logger    *log.Logger

	maxAttempts       int
	heartbeatInterval time.Duration
	limiter           *rate.Limiter
}

// New creates a Worker.
func New(store meetings.Store, artifacts storage.Artifacts, client TranscriptionClient, notifier notify.Notifier, logger *log.Logger, opts Options) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.DispatchPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.DispatchPerMinute)), 1)
	}
	return &Worker{
		meetings:          store,
		artifacts:         artifacts,
		client:            client,
		notifier:          notifier,
		logger:            logger,
		maxAttempts:       maxAttempts,
		heartbeatInterval: heartbeatInterval,
		limiter:           limiter,
	}
}

// run is the state of one job execution.
type run struct {
	meetingID   string
	attempt     int
	maxAttempts int
	tracker     *progress.Tracker

	mu    sync.Mutex
	stage string
}

func (r *run) setStage(stage string) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
}

func (r *run) currentStage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// ProcessMeeting runs the full pipeline for one meeting. attempt is
// 1-based. maxAttempts is the attempt budget of this particular job;
// pass 0 for the configured default. Jobs submitted with a per-job
// override must exhaust against their own budget, not the global one.
// The returned error is nil on success, a validation Error for
// unretryable input problems, an exhausted Error once the retry cap is
// reached, and the underlying transient error otherwise.
func (w *Worker) ProcessMeeting(ctx context.Context, meetingID string, attempt, maxAttempts int) error {
	if attempt < 1 {
		attempt = 1
	}
	if maxAttempts < 1 {
		maxAttempts = w.maxAttempts
	}
	r := &run{meetingID: meetingID, attempt: attempt, maxAttempts: maxAttempts, tracker: progress.NewTracker()}

	err := w.process(ctx, r)
	if err == nil {
		return nil
	}
	return w.handleFailure(ctx, r, err)
}

func (w *Worker) process(ctx context.Context, r *run) error {
	if r.meetingID == "" {
		return validationError("meeting id is required")
	}

	meeting, err := w.meetings.Get(ctx, r.meetingID)
	if err != nil {
		return fmt.Errorf("load meeting %s: %w", r.meetingID, err)
	}
	if meeting == nil {
		return validationError(fmt.Sprintf("meeting not found: %s", r.meetingID))
	}

	// Duplicate-delivery guard: the queue may redeliver a job whose
	// previous run already finished.
	if meeting.Status == meetings.StatusCompleted && meeting.Result != nil {
		w.logger.Printf("worker: meeting=%s already completed, skipping redelivery", r.meetingID)
		return nil
	}

	if meeting.ArtifactID == "" {
		return validationError(fmt.Sprintf("meeting %s has no recording artifact", r.meetingID))
	}
	exists, err := w.artifacts.Exists(ctx, meeting.ArtifactID)
	if err != nil {
		return fmt.Errorf("check artifact %s: %w", meeting.ArtifactID, err)
	}
	if !exists {
		return validationError(fmt.Sprintf("recording artifact missing: %s", meeting.ArtifactID))
	}

	if err := w.meetings.SetStatus(ctx, r.meetingID, meetings.StatusProcessing); err != nil {
		return fmt.Errorf("mark meeting %s active: %w", r.meetingID, err)
	}
	if r.attempt == 1 {
		if err := w.meetings.ResetRetries(ctx, r.meetingID); err != nil {
			return fmt.Errorf("reset retries for %s: %w", r.meetingID, err)
		}
	}
	now := time.Now().UTC()
	startedStage := progress.StageStarting
	if err := w.meetings.UpdateProcessing(ctx, r.meetingID, meetings.ProcessingUpdate{
		StartedAt:    &now,
		CurrentStage: &startedStage,
	}); err != nil {
		return fmt.Errorf("record processing start for %s: %w", r.meetingID, err)
	}

	// Heartbeat runs on its own timer and is notify-only: it never writes
	// the authoritative processing state, so it cannot race the
	// stage-update path.
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go w.heartbeatLoop(heartbeatCtx, &wg, r)
	defer wg.Wait()
	defer stopHeartbeat()

	startMessage := "processing started"
	if r.attempt > 1 {
		startMessage = fmt.Sprintf("processing restarted (attempt %d/%d)", r.attempt, r.maxAttempts)
	}
	w.step(ctx, r, progress.StageStarting, 0, startMessage, nil)

	w.step(ctx, r, progress.StageDownloading, 0, "download started", nil)
	audio, size, err := w.artifacts.Open(ctx, meeting.ArtifactID)
	if err != nil {
		return serviceError(fmt.Sprintf("open recording %s: %v", meeting.ArtifactID, err))
	}
	defer audio.Close()
	w.step(ctx, r, progress.StageDownloading, 1, "download finished", nil)

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("dispatch rate limit: %w", err)
	}

	w.step(ctx, r, progress.StageTranscribing, 0, "transcription started", nil)
	events, err := w.client.Stream(ctx, transcription.StreamRequest{
		MeetingID: r.meetingID,
		Audio:     audio,
		Size:      size,
	})
	if err != nil {
		return serviceError(fmt.Sprintf("start transcription stream: %v", err))
	}

	result, err := w.consumeStream(ctx, r, events)
	if err != nil {
		return err
	}

	w.step(ctx, r, progress.StageSaving, 0, "saving results", nil)
	transcript := toTranscript(result)
	if err := w.meetings.SaveResult(ctx, r.meetingID, transcript); err != nil {
		return fmt.Errorf("save result for %s: %w", r.meetingID, err)
	}
	if err := w.meetings.SetStatus(ctx, r.meetingID, meetings.StatusCompleted); err != nil {
		return fmt.Errorf("mark meeting %s completed: %w", r.meetingID, err)
	}
	w.step(ctx, r, progress.StageCompleted, 0, "processing completed", nil)

	w.logger.Printf("worker: meeting=%s completed attempt=%d", r.meetingID, r.attempt)
	return nil
}

// consumeStream drains the service event stream until a terminal event.
// Stream end without a complete event is a failure.
func (w *Worker) consumeStream(ctx context.Context, r *run, events <-chan transcription.Event) (*transcription.Result, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transcription cancelled: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return nil, serviceError("transcription stream ended without a complete event")
			}
			switch ev.Type {
			case transcription.EventProgress:
				w.applyProgress(ctx, r, ev)
			case transcription.EventTranscriptChunk:
				// Informational only; no log entry, no state write.
				w.logger.Printf("worker: meeting=%s transcript chunk %d received", r.meetingID, ev.ChunkIndex)
			case transcription.EventComplete:
				if ev.Result == nil {
					return nil, serviceError("complete event carried no result")
				}
				return ev.Result, nil
			case transcription.EventError:
				return nil, serviceError(fmt.Sprintf("transcription service error: %s", ev.Err))
			}
		}
	}
}

// applyProgress translates one service progress event into exactly one log
// entry plus one notify event.
func (w *Worker) applyProgress(ctx context.Context, r *run, ev transcription.Event) {
	fraction := float64(ev.Progress) / 100
	var chunk *meetings.ChunkInfo
	if ev.TotalChunks > 0 {
		fraction = float64(ev.Chunk) / float64(ev.TotalChunks)
		chunk = &meetings.ChunkInfo{Current: ev.Chunk, Total: ev.TotalChunks}
	}
	message := ev.Message
	if message == "" {
		message = ev.Stage
	}
	w.stepFraction(ctx, r, ev.Stage, fraction, message, chunk, ev.Chunk, ev.TotalChunks)
}

func (w *Worker) step(ctx context.Context, r *run, stage string, fraction float64, message string, chunk *meetings.ChunkInfo) {
	w.stepFraction(ctx, r, stage, fraction, message, chunk, 0, 0)
}

// stepFraction persists one transition and notifies observers. The log
// write and the notify are emitted together so polling and subscribed
// clients converge quickly.
func (w *Worker) stepFraction(ctx context.Context, r *run, stage string, fraction float64, message string, chunk *meetings.ChunkInfo, chunkIndex, totalChunks int) {
	percent := r.tracker.Observe(progress.Stages.Percent(stage, fraction))
	r.setStage(stage)

	update := meetings.ProcessingUpdate{CurrentStage: &stage}
	if chunk != nil {
		update.Chunk = chunk
	}
	if err := w.meetings.UpdateProcessing(ctx, r.meetingID, update); err != nil {
		w.logger.Printf("worker: update processing meeting=%s stage=%s: %v", r.meetingID, stage, err)
	}
	if err := w.meetings.AppendLog(ctx, r.meetingID, meetings.LogEntry{
		Message:   message,
		Timestamp: time.Now().UTC(),
		Progress:  percent,
		Stage:     stage,
	}); err != nil {
		w.logger.Printf("worker: append log meeting=%s stage=%s: %v", r.meetingID, stage, err)
	}
	w.notifier.Notify(ctx, r.meetingID, notify.Event{
		Category:    notify.CategoryProgress,
		Stage:       stage,
		Progress:    percent,
		Message:     message,
		Chunk:       chunkIndex,
		TotalChunks: totalChunks,
	})
}

// heartbeatLoop emits a liveness signal tagged with the believed current
// stage until the run ends. Its sole consumer is external monitoring; it
// distinguishes "slow but alive" from "wedged" and takes no corrective
// action itself.
func (w *Worker) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, r *run) {
	defer wg.Done()
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.notifier.Notify(ctx, r.meetingID, notify.Event{
				Category: notify.CategoryHeartbeat,
				Stage:    r.currentStage(),
				Progress: r.tracker.Last(),
				Message:  "worker alive",
			})
		}
	}
}

// handleFailure applies the retry/quarantine policy for a failed run.
func (w *Worker) handleFailure(ctx context.Context, r *run, runErr error) error {
	message := runErr.Error()
	w.logger.Printf("worker: meeting=%s attempt=%d failed: %v", r.meetingID, r.attempt, runErr)

	if err := w.meetings.UpdateProcessing(ctx, r.meetingID, meetings.ProcessingUpdate{ErrorMessage: &message}); err != nil {
		w.logger.Printf("worker: record error meeting=%s: %v", r.meetingID, err)
	}
	if err := w.meetings.AppendLog(ctx, r.meetingID, meetings.LogEntry{
		Message:   fmt.Sprintf("error: %s", message),
		Timestamp: time.Now().UTC(),
		Progress:  r.tracker.Last(),
		Stage:     "error",
	}); err != nil {
		w.logger.Printf("worker: append error log meeting=%s: %v", r.meetingID, err)
	}
	w.notifier.Notify(ctx, r.meetingID, notify.Event{
		Category: notify.CategoryProgress,
		Stage:    "error",
		Progress: r.tracker.Last(),
		Message:  message,
	})

	// Validation failures are terminal immediately and never consume a
	// retry: re-running cannot make a missing artifact appear.
	if IsValidation(runErr) {
		if err := w.meetings.SetStatus(ctx, r.meetingID, meetings.StatusFailed); err != nil {
			w.logger.Printf("worker: mark failed meeting=%s: %v", r.meetingID, err)
		}
		return runErr
	}

	retryCount, err := w.meetings.IncrementRetry(ctx, r.meetingID)
	if err != nil {
		w.logger.Printf("worker: increment retry meeting=%s: %v", r.meetingID, err)
		retryCount = r.attempt
	}

	if retryCount < r.maxAttempts {
		// Transient: the queue re-delivers with backoff.
		if err := w.meetings.SetStatus(ctx, r.meetingID, meetings.StatusQueued); err != nil {
			w.logger.Printf("worker: requeue status meeting=%s: %v", r.meetingID, err)
		}
		return runErr
	}

	// Retries exhausted: terminal failure plus quarantine of the source
	// artifact for postmortem.
	if err := w.meetings.SetStatus(ctx, r.meetingID, meetings.StatusFailed); err != nil {
		w.logger.Printf("worker: mark failed meeting=%s: %v", r.meetingID, err)
	}
	w.quarantine(ctx, r)
	return &Error{Code: CodeExhausted, Message: fmt.Sprintf("retries exhausted after %d attempts: %s", retryCount, message)}
}

// quarantine moves the source artifact out of primary storage. The
// quarantine copy is never auto-deleted by the pipeline.
func (w *Worker) quarantine(ctx context.Context, r *run) {
	meeting, err := w.meetings.Get(ctx, r.meetingID)
	if err != nil || meeting == nil || meeting.ArtifactID == "" {
		return
	}
	if meeting.QuarantineID != "" {
		// Already quarantined by a previous terminal failure.
		return
	}
	quarantineID, err := w.artifacts.Quarantine(ctx, meeting.ArtifactID)
	if err != nil {
		w.logger.Printf("worker: quarantine artifact=%s meeting=%s: %v", meeting.ArtifactID, r.meetingID, err)
		return
	}
	if err := w.meetings.SetQuarantine(ctx, r.meetingID, quarantineID); err != nil {
		w.logger.Printf("worker: record quarantine meeting=%s: %v", r.meetingID, err)
		return
	}
	w.logger.Printf("worker: meeting=%s artifact quarantined as %s", r.meetingID, quarantineID)
}

func toTranscript(result *transcription.Result) *meetings.Transcript {
	transcript := &meetings.Transcript{
		Text:        result.Text,
		Language:    result.Language,
		DurationSec: result.Duration,
		AINotes:     result.AINotes,
		ActionItems: result.ActionItems,
		Source:      "recording",
	}
	for _, seg := range result.Segments {
		transcript.Segments = append(transcript.Segments, meetings.Segment{
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
			Speaker: seg.Speaker,
		})
	}
	return transcript
}
