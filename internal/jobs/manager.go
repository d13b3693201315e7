// Package jobs owns the durable transcription queue. It wraps asynq for
// persistence, retry scheduling and retention, and hands each delivery to
// the worker package.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/config"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/meetings"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/worker"
)

const (
	taskTypeTranscribe = "meeting:transcribe"

	queueDefault  = "transcription"
	queuePriority = "transcription:priority"
)

// taskIDFor derives the idempotency key for a meeting's transcription job.
// Submitting the same meeting twice while a job is queued or active lands
// on the same task id and returns the existing handle.
func taskIDFor(meetingID string) string {
	return "transcribe:" + meetingID
}

// backoffDelay is the exponential retry schedule: base * 2^n for the n-th
// retry (n starts at 0).
func backoffDelay(base time.Duration, n int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if n < 0 {
		n = 0
	}
	if n > 16 {
		n = 16
	}
	return base * (1 << uint(n))
}

// taskBackoffBase reads the per-job backoff override from the task
// payload, falling back to the configured default.
func taskBackoffBase(task *asynq.Task, fallback time.Duration) time.Duration {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err == nil && payload.BackoffBase > 0 {
		return payload.BackoffBase
	}
	return fallback
}

// Manager submits jobs, answers status queries and runs the worker slots.
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	meetings  meetings.Store
	worker    *worker.Worker
	logger    *log.Logger
}

// NewManager wires the asynq client, server and inspector.
func NewManager(cfg *config.Config, store meetings.Store, w *worker.Worker, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("meetings store is nil")
	}
	if w == nil {
		return nil, errors.New("worker is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			// A small fixed pool: downstream speech compute is the
			// bottleneck, more slots would only queue inside the service.
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queuePriority: 3,
				queueDefault:  1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return backoffDelay(taskBackoffBase(task, cfg.RetryBackoffBase), n)
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:       cfg,
		client:    client,
		server:    server,
		inspector: inspector,
		mux:       mux,
		meetings:  store,
		worker:    w,
		logger:    logger,
	}
	mux.HandleFunc(taskTypeTranscribe, manager.handleTranscribeTask)
	return manager, nil
}

// StartWorkers runs the asynq server in the background.
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Printf("jobs: asynq server stopped with error: %v", err)
		}
	}()
}

// Close drains in-flight work and closes the queue connections.
func (m *Manager) Close(ctx context.Context) error {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		return err
	}
	return m.inspector.Close()
}

// Submit enqueues a transcription job for the meeting, idempotently.
// Resubmitting while an equivalent job is queued or active returns the
// existing handle instead of creating a duplicate.
func (m *Manager) Submit(ctx context.Context, meetingID string, opts SubmitOptions) (*JobHandle, error) {
	if meetingID == "" {
		return nil, &worker.Error{Code: worker.CodeValidation, Message: "meeting id is required"}
	}
	meeting, err := m.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("load meeting %s: %w", meetingID, err)
	}
	if meeting == nil {
		return nil, &worker.Error{Code: worker.CodeValidation, Message: fmt.Sprintf("meeting not found: %s", meetingID)}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.MaxAttempts
	}
	queue := queueDefault
	if opts.Priority == "high" {
		queue = queuePriority
	}

	taskPayload := TaskPayload{MeetingID: meetingID}
	if opts.BackoffBase > 0 {
		taskPayload.BackoffBase = opts.BackoffBase
	}
	payload, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(taskTypeTranscribe, payload)
	info, err := m.client.EnqueueContext(ctx, task,
		asynq.TaskID(taskIDFor(meetingID)),
		asynq.Queue(queue),
		// MaxRetry counts re-deliveries, so the total attempt budget is
		// MaxRetry+1.
		asynq.MaxRetry(maxAttempts-1),
		asynq.Timeout(m.cfg.JobTimeout),
		asynq.Retention(m.cfg.JobRetention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return m.existingHandle(ctx, meetingID)
		}
		return nil, fmt.Errorf("enqueue transcription for %s: %w", meetingID, err)
	}

	now := time.Now().UTC()
	jobID := info.ID
	if err := m.meetings.SetStatus(ctx, meetingID, meetings.StatusQueued); err != nil {
		m.logger.Printf("jobs: mark meeting=%s queued: %v", meetingID, err)
	}
	if err := m.meetings.UpdateProcessing(ctx, meetingID, meetings.ProcessingUpdate{
		JobID:    &jobID,
		QueuedAt: &now,
	}); err != nil {
		m.logger.Printf("jobs: record job id meeting=%s: %v", meetingID, err)
	}

	m.logger.Printf("jobs: meeting=%s enqueued job=%s queue=%s", meetingID, jobID, queue)
	return &JobHandle{
		JobID:     jobID,
		MeetingID: meetingID,
		State:     StateQueued,
		QueuedAt:  now,
	}, nil
}

// existingHandle resolves the handle of the already-enqueued job for a
// meeting after an idempotent resubmission.
func (m *Manager) existingHandle(ctx context.Context, meetingID string) (*JobHandle, error) {
	jobID := taskIDFor(meetingID)
	for _, queue := range []string{queueDefault, queuePriority} {
		info, err := m.inspector.GetTaskInfo(queue, jobID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return nil, err
		}
		return &JobHandle{
			JobID:     info.ID,
			MeetingID: meetingID,
			State:     mapTaskState(info.State),
			QueuedAt:  info.NextProcessAt,
		}, nil
	}
	return nil, fmt.Errorf("job for meeting %s conflicted but was not found", meetingID)
}

// Status answers a poll for one job. Progress comes from the meeting's
// processing log; attempt and failure bookkeeping comes from the queue.
func (m *Manager) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	if jobID == "" {
		return nil, &worker.Error{Code: worker.CodeValidation, Message: "job id is required"}
	}
	var info *asynq.TaskInfo
	var err error
	for _, queue := range []string{queueDefault, queuePriority} {
		info, err = m.inspector.GetTaskInfo(queue, jobID)
		if err == nil {
			break
		}
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		return nil, err
	}
	if info == nil {
		return nil, nil
	}

	status := &JobStatus{
		JobID:        info.ID,
		State:        mapTaskState(info.State),
		AttemptsMade: attemptsMade(info.State, info.Retried),
		FailedReason: info.LastErr,
	}
	if !info.CompletedAt.IsZero() {
		status.FinishedAt = info.CompletedAt
	} else if info.State == asynq.TaskStateArchived && !info.LastFailedAt.IsZero() {
		status.FinishedAt = info.LastFailedAt
	}

	var payload TaskPayload
	if err := json.Unmarshal(info.Payload, &payload); err == nil && payload.MeetingID != "" {
		if meeting, err := m.meetings.Get(ctx, payload.MeetingID); err == nil && meeting != nil {
			status.ProcessedAt = meeting.Processing.StartedAt
			if entries, err := m.meetings.Log(ctx, payload.MeetingID, 1); err == nil && len(entries) > 0 {
				status.ProgressPercent = entries[0].Progress
				status.Stage = entries[0].Stage
			}
		}
	}
	return status, nil
}

// attemptsMade counts completed-or-running attempts. While a task waits
// between retries only the finished attempts count; an active, completed
// or archived task includes its current/final attempt.
func attemptsMade(state asynq.TaskState, retried int) int {
	switch state {
	case asynq.TaskStateActive, asynq.TaskStateCompleted, asynq.TaskStateArchived:
		return retried + 1
	default:
		return retried
	}
}

// mapTaskState folds asynq's task states onto the client-facing lifecycle.
func mapTaskState(state asynq.TaskState) JobState {
	switch state {
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	default:
		// pending, scheduled, retry, aggregating
		return StateQueued
	}
}

// handleTranscribeTask is the asynq delivery entry point.
func (m *Manager) handleTranscribeTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.MeetingID == "" {
		return fmt.Errorf("task payload missing meeting id: %w", asynq.SkipRetry)
	}

	attempt := 1
	if retried, ok := asynq.GetRetryCount(ctx); ok {
		attempt = retried + 1
	}
	// The exhaustion threshold follows this task's own retry budget, so
	// per-job MaxAttempts overrides quarantine at the right attempt.
	maxAttempts := 0
	if maxRetry, ok := asynq.GetMaxRetry(ctx); ok {
		maxAttempts = maxRetry + 1
	}

	err := m.worker.ProcessMeeting(ctx, payload.MeetingID, attempt, maxAttempts)
	if err == nil {
		return nil
	}
	// Validation failures cannot be cured by retrying, and exhausted
	// failures have already been quarantined by the worker; both archive
	// immediately.
	if worker.IsValidation(err) || worker.IsExhausted(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
