package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/auth"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/config"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/jobs"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/livecapture"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/meetings"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/notify"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/storage"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/transcription"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/worker"
)

// pipeline bundles the wired processing components for the handlers.
type pipeline struct {
	meetings  meetings.Store
	artifacts storage.Artifacts
	jobs      *jobs.Manager
	capture   *livecapture.Manager
}

// captureScheduler lets the live capture manager hand finished audio to
// the job queue without importing it.
type captureScheduler struct {
	manager *jobs.Manager
}

func (s *captureScheduler) Schedule(ctx context.Context, meetingID string) (string, error) {
	handle, err := s.manager.Submit(ctx, meetingID, jobs.SubmitOptions{})
	if err != nil {
		return "", err
	}
	return handle.JobID, nil
}

func setupPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(opt)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	store := meetings.NewRedisStore(redisClient)
	artifacts, err := storage.NewLocal(cfg.StorageDir, cfg.QuarantineDir)
	if err != nil {
		return nil, err
	}

	client := transcription.New(cfg.TranscriptionURL, cfg.TranscriptionTimeout)
	notifier := notify.NewRedisNotifier(redisClient, log.Default())

	w := worker.New(store, artifacts, client, notifier, log.Default(), worker.Options{
		MaxAttempts:       cfg.MaxAttempts,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DispatchPerMinute: cfg.DispatchPerMinute,
	})
	manager, err := jobs.NewManager(cfg, store, w, log.Default())
	if err != nil {
		return nil, err
	}

	capture := livecapture.NewManager(livecapture.Options{
		Sessions:  livecapture.NewRedisSessionStore(redisClient),
		Meetings:  store,
		Artifacts: artifacts,
		Scheduler: &captureScheduler{manager: manager},
		Preview:   client,
		Notifier:  notifier,
		Logger:    log.Default(),
		MaxAge:    cfg.SessionMaxAge,
	})

	return &pipeline{meetings: store, artifacts: artifacts, jobs: manager, capture: capture}, nil
}

func createMeetingHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		meeting := &meetings.Meeting{
			ID:     uuid.New().String(),
			UserID: c.GetString(auth.ContextUserKey),
			Status: meetings.StatusPending,
		}
		if err := p.meetings.Put(c.Request.Context(), meeting); err != nil {
			internalError(c, "failed to create meeting")
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"meetingId": meeting.ID,
			"status":    meeting.Status,
		})
	}
}

func meetingHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		meeting, ok := loadMeeting(c, p)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, meeting)
	}
}

// uploadRecordingHandler accepts the multipart recording upload, sniffs
// its content type and stores it as the meeting's artifact. Only audio
// and video payloads are accepted; extension and client-declared type
// are not trusted.
func uploadRecordingHandler(p *pipeline, maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		meeting, ok := loadMeeting(c, p)
		if !ok {
			return
		}

		if maxSize > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"code":    "FILE_TOO_LARGE",
					"message": "recording exceeds the upload size limit",
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "send the recording as multipart field \"file\"",
			})
			return
		}
		defer file.Close()

		head := make([]byte, 3072)
		n, err := io.ReadFull(file, head)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			internalError(c, "failed to read upload")
			return
		}
		head = head[:n]

		mtype := mimetype.Detect(head)
		if !strings.HasPrefix(mtype.String(), "audio/") && !strings.HasPrefix(mtype.String(), "video/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"code":     "UNSUPPORTED_MEDIA_TYPE",
				"message":  "only audio and video recordings are accepted",
				"detected": mtype.String(),
			})
			return
		}

		ctx := c.Request.Context()
		artifactID, err := p.artifacts.Save(ctx, meeting.ID, io.MultiReader(bytes.NewReader(head), file))
		if err != nil {
			internalError(c, "failed to store recording")
			return
		}
		if err := p.meetings.SetArtifact(ctx, meeting.ID, artifactID); err != nil {
			internalError(c, "failed to record artifact")
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"meetingId":  meeting.ID,
			"artifactId": artifactID,
			"filename":   header.Filename,
			"mimeType":   mtype.String(),
		})
	}
}

type processRequest struct {
	Priority    string `json:"priority"`
	MaxAttempts int    `json:"maxAttempts"`
}

func processMeetingHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		meeting, ok := loadMeeting(c, p)
		if !ok {
			return
		}
		if meeting.ArtifactID == "" {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "NO_RECORDING",
				"message": "upload a recording before requesting processing",
			})
			return
		}

		var req processRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "invalid processing options",
				})
				return
			}
		}

		handle, err := p.jobs.Submit(c.Request.Context(), meeting.ID, jobs.SubmitOptions{
			Priority:    req.Priority,
			MaxAttempts: req.MaxAttempts,
		})
		if err != nil {
			internalError(c, "failed to enqueue processing")
			return
		}
		c.JSON(http.StatusAccepted, handle)
	}
}

func jobStatusHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "job id is required",
			})
			return
		}

		status, err := p.jobs.Status(c.Request.Context(), jobID)
		if err != nil {
			var workerErr *worker.Error
			if errors.As(err, &workerErr) && workerErr.Code == worker.CodeValidation {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": workerErr.Message,
				})
				return
			}
			internalError(c, "failed to look up job")
			return
		}
		if status == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "no such job",
			})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func progressHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		meeting, ok := loadMeeting(c, p)
		if !ok {
			return
		}
		entries, err := p.meetings.Log(c.Request.Context(), meeting.ID, 100)
		if err != nil {
			internalError(c, "failed to load progress log")
			return
		}

		payload := gin.H{
			"meetingId": meeting.ID,
			"status":    meeting.Status,
			"stage":     meeting.Processing.CurrentStage,
			"log":       entries,
		}
		if len(entries) > 0 {
			payload["progress"] = entries[len(entries)-1].Progress
		}
		c.JSON(http.StatusOK, payload)
	}
}

type startCaptureRequest struct {
	MeetingID string `json:"meetingId" binding:"required"`
}

func startCaptureHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startCaptureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "meetingId is required",
			})
			return
		}
		session, err := p.capture.Start(c.Request.Context(), req.MeetingID, c.GetString(auth.ContextUserKey))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "MEETING_NOT_FOUND",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

func botJoinedHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := p.capture.MarkJoined(c.Request.Context(), c.Param("meetingId"))
		if err != nil {
			sessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// ingestAudioHandler accepts one raw audio chunk as the request body.
// The chunk index comes from the "index" query parameter.
func ingestAudioHandler(p *pipeline, maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := strconv.Atoi(c.DefaultQuery("index", "0"))
		if err != nil || index < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "index must be a non-negative integer",
			})
			return
		}

		body := c.Request.Body
		if maxSize > 0 {
			body = http.MaxBytesReader(c.Writer, body, maxSize)
		}
		chunk, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"code":    "FILE_TOO_LARGE",
					"message": "audio chunk exceeds the upload size limit",
				})
				return
			}
			internalError(c, "failed to read audio chunk")
			return
		}

		session, err := p.capture.IngestAudio(c.Request.Context(), c.Param("meetingId"), index, chunk)
		if err != nil {
			sessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId":       session.SessionID,
			"status":          session.Status,
			"chunks":          len(session.AudioChunks),
			"accumulatedText": session.AccumulatedText,
		})
	}
}

func ingestCaptionHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var caption livecapture.Caption
		if err := c.ShouldBindJSON(&caption); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "invalid caption payload",
			})
			return
		}
		session, err := p.capture.IngestCaption(c.Request.Context(), c.Param("meetingId"), caption)
		if err != nil {
			sessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId": session.SessionID,
			"status":    session.Status,
			"captions":  len(session.Captions),
		})
	}
}

func capturePreviewHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := p.capture.Preview(c.Request.Context(), c.Param("meetingId"))
		if err != nil {
			sessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId":       session.SessionID,
			"status":          session.Status,
			"accumulatedText": session.AccumulatedText,
			"previewTexts":    session.PreviewTexts,
		})
	}
}

func finalizeCaptureHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := p.capture.Finalize(c.Request.Context(), c.Param("meetingId"))
		if err != nil {
			if session != nil {
				// The capture failed but the session records why.
				c.JSON(http.StatusUnprocessableEntity, session)
				return
			}
			sessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func cancelCaptureHandler(p *pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := p.capture.Cancel(c.Request.Context(), c.Param("meetingId")); err != nil {
			internalError(c, "failed to cancel capture")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// loadMeeting resolves the :id path parameter; it writes the error
// response itself when the meeting cannot be served.
func loadMeeting(c *gin.Context, p *pipeline) (*meetings.Meeting, bool) {
	meetingID := strings.TrimSpace(c.Param("id"))
	if meetingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "meeting id is required",
		})
		return nil, false
	}
	meeting, err := p.meetings.Get(c.Request.Context(), meetingID)
	if err != nil {
		internalError(c, "failed to load meeting")
		return nil, false
	}
	if meeting == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "MEETING_NOT_FOUND",
			"message": "no such meeting",
		})
		return nil, false
	}
	return meeting, true
}

func sessionError(c *gin.Context, err error) {
	c.JSON(http.StatusConflict, gin.H{
		"code":    "SESSION_STATE",
		"message": err.Error(),
	})
}

func internalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": message,
	})
}
