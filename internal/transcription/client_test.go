package transcription

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing Accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer is not a flusher")
		}
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestStreamDecodesTypedEvents(t *testing.T) {
	frames := []string{
		"event: progress\ndata: {\"stage\":\"transcribing\",\"progress\":50,\"message\":\"chunk 2/4\",\"chunk\":2,\"total_chunks\":4}\n\n",
		"event: transcript_chunk\ndata: {\"chunk_index\":2}\n\n",
		"event: complete\ndata: {\"result\":{\"text\":\"hello world\",\"language\":\"en\",\"duration\":12.5}}\n\n",
	}
	server := httptest.NewServer(sseHandler(t, frames))
	defer server.Close()

	client := New(server.URL, time.Second)
	events, err := client.Stream(context.Background(), StreamRequest{
		MeetingID: "m1",
		Audio:     strings.NewReader("audio"),
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	got := collect(t, events)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %#v", len(got), got)
	}
	if got[0].Type != EventProgress || got[0].Stage != "transcribing" || got[0].Chunk != 2 || got[0].TotalChunks != 4 {
		t.Fatalf("unexpected progress event: %#v", got[0])
	}
	if got[1].Type != EventTranscriptChunk || got[1].ChunkIndex != 2 {
		t.Fatalf("unexpected transcript_chunk event: %#v", got[1])
	}
	if got[2].Type != EventComplete || got[2].Result == nil || got[2].Result.Text != "hello world" {
		t.Fatalf("unexpected complete event: %#v", got[2])
	}
}

func TestStreamTypeFieldFallback(t *testing.T) {
	// Events without an event: line carry the type inside the data payload.
	frames := []string{
		"data: {\"type\":\"progress\",\"stage\":\"downloading\",\"progress\":15}\n\n",
	}
	server := httptest.NewServer(sseHandler(t, frames))
	defer server.Close()

	client := New(server.URL, time.Second)
	events, err := client.Stream(context.Background(), StreamRequest{MeetingID: "m1", Audio: strings.NewReader("a")})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	got := collect(t, events)
	if len(got) != 1 || got[0].Type != EventProgress || got[0].Stage != "downloading" {
		t.Fatalf("unexpected events: %#v", got)
	}
}

func TestStreamMalformedEvent(t *testing.T) {
	frames := []string{"event: progress\ndata: not-json\n\n"}
	server := httptest.NewServer(sseHandler(t, frames))
	defer server.Close()

	client := New(server.URL, time.Second)
	events, err := client.Stream(context.Background(), StreamRequest{MeetingID: "m1", Audio: strings.NewReader("a")})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	got := collect(t, events)
	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("expected a single error event, got %#v", got)
	}
}

func TestStreamNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, time.Second)
	if _, err := client.Stream(context.Background(), StreamRequest{MeetingID: "m1", Audio: strings.NewReader("a")}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestStreamValidatesRequest(t *testing.T) {
	client := New("http://127.0.0.1:1", time.Second)
	if _, err := client.Stream(context.Background(), StreamRequest{Audio: strings.NewReader("a")}); err == nil {
		t.Fatal("expected error for missing meeting id")
	}
	if _, err := client.Stream(context.Background(), StreamRequest{MeetingID: "m1"}); err == nil {
		t.Fatal("expected error for missing audio reader")
	}
}

func TestPreview(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcriptions/preview" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"text":"partial words"}`)
	}))
	defer server.Close()

	client := New(server.URL, time.Second)
	text, err := client.Preview(context.Background(), strings.NewReader("chunk"))
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if text != "partial words" {
		t.Fatalf("unexpected preview text: %q", text)
	}
}

func TestStreamReaderStopsWhenConsumerCancels(t *testing.T) {
	// Endless stream: the server keeps pushing frames until the client
	// side goes away.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			_, err := fmt.Fprintf(w, "event: progress\ndata: {\"progress\":%d}\n\n", i%100)
			if err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(server.URL, time.Second)
	events, err := client.Stream(ctx, StreamRequest{
		MeetingID: "m1",
		Audio:     strings.NewReader("audio"),
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	// Consume a single event, then walk away mid-stream.
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
	cancel()

	// The reader goroutine must notice and close the channel instead of
	// blocking forever on its next send.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after consumer cancelled")
		}
	}
}
