// Package transcription is the HTTP/SSE client for the external speech and
// AI-notes service. The service does the actual recognition, diarization
// and analysis; this client only shapes requests and decodes the typed
// event stream the service pushes back.
package transcription

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Event types pushed by the service over the streaming channel.
const (
	EventProgress        = "progress"
	EventTranscriptChunk = "transcript_chunk"
	EventComplete        = "complete"
	EventError           = "error"
)

// Segment is a diarized transcript segment as returned by the service.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the payload of a complete event.
type Result struct {
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	Segments    []Segment `json:"segments,omitempty"`
	AINotes     string    `json:"ai_notes,omitempty"`
	ActionItems []string  `json:"action_items,omitempty"`
}

// Event is one typed event from the streaming channel.
type Event struct {
	Type string `json:"type"`

	// progress fields
	Stage       string `json:"stage,omitempty"`
	Progress    int    `json:"progress,omitempty"`
	Message     string `json:"message,omitempty"`
	Chunk       int    `json:"chunk,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`

	// transcript_chunk fields (informational only)
	ChunkIndex int `json:"chunk_index,omitempty"`

	// complete payload
	Result *Result `json:"result,omitempty"`

	// error payload
	Err string `json:"error,omitempty"`
}

// StreamRequest describes one full transcription run.
type StreamRequest struct {
	MeetingID string
	Audio     io.Reader
	Size      int64
	Language  string
}

// Client talks to the transcription service.
type Client struct {
	baseURL string
	// stream calls must not carry a client timeout: a 40MB recording can
	// legitimately stream events for many minutes. Cancellation comes
	// from the request context instead.
	streamClient *http.Client
	client       *http.Client
}

// New creates a Client. timeout applies to non-streaming calls only.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		streamClient: &http.Client{},
		client:       &http.Client{Timeout: timeout},
	}
}

// Stream submits a recording and returns the channel of typed events the
// service pushes back. The channel is closed at stream end; callers must
// treat stream end without a complete event as a failure. Transport-level
// read errors surface as a final error event.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (<-chan Event, error) {
	if req.MeetingID == "" {
		return nil, fmt.Errorf("meetingID is required")
	}
	if req.Audio == nil {
		return nil, fmt.Errorf("audio reader is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcriptions/stream", req.Audio)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Meeting-Id", req.MeetingID)
	if req.Language != "" {
		httpReq.Header.Set("X-Language", req.Language)
	}
	if req.Size > 0 {
		httpReq.ContentLength = req.Size
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription service request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	events := make(chan Event)
	go c.readStream(ctx, resp.Body, events)
	return events, nil
}

// readStream decodes server-sent events until the body ends or the
// caller stops listening. Every send races the context so a consumer
// that bailed out mid-stream cannot strand this goroutine on the
// unbuffered channel.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var eventName string
	var data strings.Builder
	flush := func() bool {
		defer func() {
			eventName = ""
			data.Reset()
		}()
		raw := strings.TrimSpace(data.String())
		if raw == "" {
			return true
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return send(Event{Type: EventError, Err: fmt.Sprintf("malformed stream event: %v", err)})
		}
		if eventName != "" {
			ev.Type = eventName
		}
		return send(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		}
	}
	if !flush() {
		return
	}
	if err := scanner.Err(); err != nil {
		send(Event{Type: EventError, Err: fmt.Sprintf("stream read: %v", err)})
	}
}

// Preview runs a low-latency partial transcription of a short audio chunk.
// Preview text is used for live display only and is never authoritative.
func (c *Client) Preview(ctx context.Context, audio io.Reader) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcriptions/preview", audio)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("preview request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("preview returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode preview response: %w", err)
	}
	return out.Text, nil
}
