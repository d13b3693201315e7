package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestTaskIDDeterministic(t *testing.T) {
	if taskIDFor("m1") != taskIDFor("m1") {
		t.Fatal("task id for a meeting must be deterministic")
	}
	if taskIDFor("m1") == taskIDFor("m2") {
		t.Fatal("task ids for different meetings must differ")
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	base := 5 * time.Second
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
	}
	for n, expected := range want {
		if got := backoffDelay(base, n); got != expected {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", base, n, got, expected)
		}
	}
}

func TestBackoffDelayDefaults(t *testing.T) {
	if got := backoffDelay(0, 0); got != 5*time.Second {
		t.Fatalf("zero base should fall back to 5s, got %v", got)
	}
	if got := backoffDelay(time.Second, -3); got != time.Second {
		t.Fatalf("negative retry count should clamp to base, got %v", got)
	}
	// The shift is capped so huge retry counts cannot overflow.
	if got := backoffDelay(time.Second, 1000); got != time.Second<<16 {
		t.Fatalf("retry count should be capped at 16 doublings, got %v", got)
	}
}

func TestMapTaskState(t *testing.T) {
	cases := []struct {
		in   asynq.TaskState
		want JobState
	}{
		{asynq.TaskStateActive, StateActive},
		{asynq.TaskStatePending, StateQueued},
		{asynq.TaskStateScheduled, StateQueued},
		{asynq.TaskStateRetry, StateQueued},
		{asynq.TaskStateCompleted, StateCompleted},
		{asynq.TaskStateArchived, StateFailed},
	}
	for _, tc := range cases {
		if got := mapTaskState(tc.in); got != tc.want {
			t.Errorf("mapTaskState(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAttemptsMade(t *testing.T) {
	cases := []struct {
		state   asynq.TaskState
		retried int
		want    int
	}{
		{asynq.TaskStatePending, 0, 0},
		{asynq.TaskStateActive, 0, 1},
		{asynq.TaskStateRetry, 1, 1},
		{asynq.TaskStateActive, 2, 3},
		{asynq.TaskStateCompleted, 2, 3},
		{asynq.TaskStateArchived, 2, 3},
	}
	for _, tc := range cases {
		if got := attemptsMade(tc.state, tc.retried); got != tc.want {
			t.Errorf("attemptsMade(%v, %d) = %d, want %d", tc.state, tc.retried, got, tc.want)
		}
	}
}

func TestTaskBackoffBaseOverride(t *testing.T) {
	fallback := 5 * time.Second

	payload, err := json.Marshal(TaskPayload{MeetingID: "m1", BackoffBase: 2 * time.Second})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	task := asynq.NewTask(taskTypeTranscribe, payload)
	if got := taskBackoffBase(task, fallback); got != 2*time.Second {
		t.Fatalf("base = %s, want 2s from the payload", got)
	}
	if got := backoffDelay(taskBackoffBase(task, fallback), 1); got != 4*time.Second {
		t.Fatalf("first retry delay = %s, want 4s", got)
	}

	payload, err = json.Marshal(TaskPayload{MeetingID: "m1"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	task = asynq.NewTask(taskTypeTranscribe, payload)
	if got := taskBackoffBase(task, fallback); got != fallback {
		t.Fatalf("base = %s, want the %s fallback", got, fallback)
	}

	task = asynq.NewTask(taskTypeTranscribe, []byte("not json"))
	if got := taskBackoffBase(task, fallback); got != fallback {
		t.Fatalf("base = %s, want the fallback for a malformed payload", got)
	}
}
