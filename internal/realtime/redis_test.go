package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"carecall_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisPublisher_DeliversEnvelope(t *testing.T) {
	srv := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runID := uuid.New()
	channel := RunChannel(runID)

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publisher := NewRedisPublisherFromClient(client, logger.New("development"))
	publisher.Publish(ctx, channel, EventMetricsUpdated, map[string]interface{}{
		"runId": runID.String(),
	})

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	var envelope struct {
		Event     string                 `json:"event"`
		Payload   map[string]interface{} `json:"payload"`
		Timestamp time.Time              `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if envelope.Event != EventMetricsUpdated {
		t.Fatalf("expected event %q, got %q", EventMetricsUpdated, envelope.Event)
	}
	if envelope.Payload["runId"] != runID.String() {
		t.Fatalf("expected runId payload, got %v", envelope.Payload)
	}
	if envelope.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}
}

func TestChannelNames(t *testing.T) {
	id := uuid.MustParse("5bfa0e26-2222-4444-8888-abcdefabcdef")

	if got := OrgChannel(id); got != "org-"+id.String() {
		t.Fatalf("unexpected org channel %q", got)
	}
	if got := RunChannel(id); got != "run-"+id.String() {
		t.Fatalf("unexpected run channel %q", got)
	}
	if got := CampaignChannel(id); got != "campaign-"+id.String() {
		t.Fatalf("unexpected campaign channel %q", got)
	}
}
