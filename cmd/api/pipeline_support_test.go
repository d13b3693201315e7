package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/livecapture"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/meetings"
)

type memoryArtifacts struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newMemoryArtifacts() *memoryArtifacts {
	return &memoryArtifacts{saved: make(map[string][]byte)}
}

func (a *memoryArtifacts) Save(ctx context.Context, meetingID string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id := fmt.Sprintf("artifact-%d", len(a.saved)+1)
	a.saved[id] = data
	return id, nil
}

func (a *memoryArtifacts) Open(ctx context.Context, artifactID string) (io.ReadCloser, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.saved[artifactID]
	if !ok {
		return nil, 0, fmt.Errorf("artifact not found: %s", artifactID)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (a *memoryArtifacts) Exists(ctx context.Context, artifactID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.saved[artifactID]
	return ok, nil
}

func (a *memoryArtifacts) Remove(ctx context.Context, artifactID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.saved, artifactID)
	return nil
}

func (a *memoryArtifacts) Quarantine(ctx context.Context, artifactID string) (string, error) {
	return "q-" + artifactID, nil
}

type noopScheduler struct{}

func (noopScheduler) Schedule(ctx context.Context, meetingID string) (string, error) {
	return "job-1", nil
}

func testPipeline(t *testing.T) (*pipeline, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := meetings.NewMemoryStore()
	artifacts := newMemoryArtifacts()
	capture := livecapture.NewManager(livecapture.Options{
		Sessions:  livecapture.NewMemorySessionStore(),
		Meetings:  store,
		Artifacts: artifacts,
		Scheduler: noopScheduler{},
		MaxAge:    time.Hour,
	})
	p := &pipeline{meetings: store, artifacts: artifacts, capture: capture}

	router := gin.New()
	router.POST("/api/meetings", createMeetingHandler(p))
	router.GET("/api/meetings/:id", meetingHandler(p))
	router.POST("/api/meetings/:id/recording", uploadRecordingHandler(p, 1<<20))
	router.GET("/api/meetings/:id/progress", progressHandler(p))
	router.POST("/api/bot/sessions", startCaptureHandler(p))
	router.POST("/api/bot/sessions/:meetingId/captions", ingestCaptionHandler(p))
	router.POST("/api/bot/sessions/:meetingId/finalize", finalizeCaptureHandler(p))
	router.DELETE("/api/bot/sessions/:meetingId", cancelCaptureHandler(p))
	return p, router
}

func seedMeeting(t *testing.T, p *pipeline, meetingID string) {
	t.Helper()
	if err := p.meetings.Put(context.Background(), &meetings.Meeting{ID: meetingID, UserID: "operator"}); err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
}

func TestCreateAndFetchMeeting(t *testing.T) {
	_, router := testPipeline(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/meetings", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		MeetingID string `json:"meetingId"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.MeetingID == "" || created.Status != meetings.StatusPending {
		t.Fatalf("unexpected create response: %+v", created)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/meetings/"+created.MeetingID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFetchUnknownMeeting(t *testing.T) {
	_, router := testPipeline(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/meetings/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// wavHeader is the minimal RIFF/WAVE prefix the sniffer recognizes.
func wavHeader() []byte {
	return []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestUploadRecordingAcceptsAudio(t *testing.T) {
	p, router := testPipeline(t)
	seedMeeting(t, p, "m1")

	body, contentType := multipartBody(t, "meeting.wav", append(wavHeader(), make([]byte, 128)...))
	req := httptest.NewRequest(http.MethodPost, "/api/meetings/m1/recording", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}

	meeting, err := p.meetings.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if meeting.ArtifactID == "" {
		t.Fatal("artifact id not recorded on meeting")
	}
}

func TestUploadRecordingRejectsNonMedia(t *testing.T) {
	p, router := testPipeline(t)
	seedMeeting(t, p, "m1")

	body, contentType := multipartBody(t, "notes.txt", []byte("just some text, not media"))
	req := httptest.NewRequest(http.MethodPost, "/api/meetings/m1/recording", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("upload status = %d, want 415: %s", rec.Code, rec.Body.String())
	}
}

func TestProgressEndpoint(t *testing.T) {
	p, router := testPipeline(t)
	seedMeeting(t, p, "m1")

	ctx := context.Background()
	for i, message := range []string{"queued", "downloading recording"} {
		err := p.meetings.AppendLog(ctx, "m1", meetings.LogEntry{
			Message:  message,
			Progress: i * 10,
			Stage:    "downloading",
		})
		if err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/meetings/m1/progress", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("progress status = %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Progress int               `json:"progress"`
		Log      []map[string]any  `json:"log"`
		Status   string            `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if payload.Progress != 10 {
		t.Fatalf("progress = %d, want 10 (latest entry)", payload.Progress)
	}
	if len(payload.Log) != 2 {
		t.Fatalf("log entries = %d, want 2", len(payload.Log))
	}
}

func TestBotCaptureFlowOverHTTP(t *testing.T) {
	p, router := testPipeline(t)
	seedMeeting(t, p, "m1")

	start := httptest.NewRequest(http.MethodPost, "/api/bot/sessions", strings.NewReader(`{"meetingId":"m1"}`))
	start.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, start)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}

	caption := httptest.NewRequest(http.MethodPost, "/api/bot/sessions/m1/captions",
		strings.NewReader(`{"index":0,"speaker":"Ann","text":"hello from the meeting"}`))
	caption.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, caption)
	if rec.Code != http.StatusOK {
		t.Fatalf("caption status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bot/sessions/m1/finalize", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize status = %d: %s", rec.Code, rec.Body.String())
	}
	var session livecapture.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Status != livecapture.StatusCompleted {
		t.Fatalf("session status = %s, want %s", session.Status, livecapture.StatusCompleted)
	}

	meeting, err := p.meetings.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if meeting.Status != meetings.StatusCompleted {
		t.Fatalf("meeting status = %s, want %s", meeting.Status, meetings.StatusCompleted)
	}
}

func TestCancelCaptureOverHTTP(t *testing.T) {
	p, router := testPipeline(t)
	seedMeeting(t, p, "m1")

	start := httptest.NewRequest(http.MethodPost, "/api/bot/sessions", strings.NewReader(`{"meetingId":"m1"}`))
	start.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, start)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/bot/sessions/m1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rec.Code)
	}
}
