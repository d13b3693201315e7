// Package notify broadcasts pipeline progress to observers. Delivery is
// best-effort: a failed broadcast is logged and swallowed so it can never
// abort the processing path that produced it.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event categories. Progress and heartbeat events are additionally
// broadcast on global channels, regardless of per-meeting subscription
// topology, for operational dashboards watching many meetings at once.
const (
	CategoryProgress  = "progress"
	CategoryHeartbeat = "heartbeat"
	CategoryLog       = "log"
	CategorySession   = "session"
)

// Event is one stage/progress/message tuple pushed to observers.
type Event struct {
	Category    string    `json:"category"`
	MeetingID   string    `json:"meetingId"`
	Stage       string    `json:"stage,omitempty"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message,omitempty"`
	Chunk       int       `json:"chunk,omitempty"`
	TotalChunks int       `json:"totalChunks,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier is the broadcast surface. Implementations must not block the
// caller or surface errors into it.
type Notifier interface {
	Notify(ctx context.Context, meetingID string, event Event)
}

// Channel names used by the Redis notifier.
const (
	globalProgressChannel  = "pipeline:progress"
	globalHeartbeatChannel = "pipeline:heartbeat"
	meetingChannelPrefix   = "meeting:"
	meetingChannelSuffix   = ":events"
	publishTimeout         = 2 * time.Second

	// maxInflightPublishes caps the publish goroutines. When Redis
	// stalls, events past the cap are dropped rather than piling up a
	// goroutine per event for the publish timeout.
	maxInflightPublishes = 64
)

// RedisNotifier publishes events over Redis pub/sub. The WebSocket layer
// subscribes on the other side and fans out to connected clients.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *log.Logger
	sem    chan struct{}
}

// NewRedisNotifier creates a RedisNotifier.
func NewRedisNotifier(rdb *redis.Client, logger *log.Logger) *RedisNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisNotifier{
		rdb:    rdb,
		logger: logger,
		sem:    make(chan struct{}, maxInflightPublishes),
	}
}

// Notify publishes the event in the background and swallows failures.
func (n *RedisNotifier) Notify(ctx context.Context, meetingID string, event Event) {
	event.MeetingID = meetingID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Printf("notify: encode event meeting=%s: %v", meetingID, err)
		return
	}

	select {
	case n.sem <- struct{}{}:
	default:
		// Delivery is best-effort; dropping beats unbounded goroutines.
		n.logger.Printf("notify: publish backlog full, dropping %s event meeting=%s", event.Category, meetingID)
		return
	}

	// Detach from the caller's context so a cancelled job can still emit
	// its final events, then bound the publish on its own clock.
	go func() {
		defer func() { <-n.sem }()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if meetingID != "" {
			if err := n.rdb.Publish(pubCtx, meetingChannel(meetingID), payload).Err(); err != nil {
				n.logger.Printf("notify: publish meeting=%s: %v", meetingID, err)
			}
		}
		switch event.Category {
		case CategoryProgress:
			if err := n.rdb.Publish(pubCtx, globalProgressChannel, payload).Err(); err != nil {
				n.logger.Printf("notify: publish global progress: %v", err)
			}
		case CategoryHeartbeat:
			if err := n.rdb.Publish(pubCtx, globalHeartbeatChannel, payload).Err(); err != nil {
				n.logger.Printf("notify: publish global heartbeat: %v", err)
			}
		}
	}()
}

func meetingChannel(meetingID string) string {
	return meetingChannelPrefix + meetingID + meetingChannelSuffix
}

// Noop discards all events. Used when no broker is configured.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(ctx context.Context, meetingID string, event Event) {}
