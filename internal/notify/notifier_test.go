package notify

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNotifyNeverBlocksWhenBacklogFull(t *testing.T) {
	var buf bytes.Buffer
	// The address is never dialed: a saturated semaphore drops before
	// the publish goroutine starts.
	n := NewRedisNotifier(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), log.New(&buf, "", 0))

	for i := 0; i < maxInflightPublishes; i++ {
		n.sem <- struct{}{}
	}

	done := make(chan struct{})
	go func() {
		n.Notify(context.Background(), "m1", Event{Category: CategoryProgress, Message: "chunk"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with a full publish backlog")
	}

	if !strings.Contains(buf.String(), "dropping") {
		t.Fatalf("dropped event not logged, log: %q", buf.String())
	}
}

func TestNoopNotifierDiscards(t *testing.T) {
	// Compile-level check that Noop satisfies the interface and a call
	// is safe with zero setup.
	var n Notifier = Noop{}
	n.Notify(context.Background(), "m1", Event{Category: CategoryLog})
}
