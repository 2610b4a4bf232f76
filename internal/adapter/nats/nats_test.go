package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/middleware"
	"github.com/Strob0t/BuzzForge/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, "BUZZFORGE_TEST")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func TestQueue_PublishCarriesRequestID(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := messagequeue.SubjectTriggerFired + ".test_" + time.Now().Format("150405000")

	cons, err := q.JetStream().OrderedConsumer(ctx, q.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
	})
	if err != nil {
		t.Fatalf("OrderedConsumer: %v", err)
	}

	data, err := json.Marshal(messagequeue.TriggerFiredPayload{Trigger: "buzz_check", Manual: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := q.Publish(logger.WithRequestID(ctx, "req-nats"), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := cons.Next(jetstream.FetchMaxWait(5 * time.Second))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	var got messagequeue.TriggerFiredPayload
	if err := json.Unmarshal(msg.Data(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Trigger != "buzz_check" || !got.Manual {
		t.Fatalf("unexpected payload %+v", got)
	}
	if id := msg.Headers().Get(middleware.HeaderRequestID); id != "req-nats" {
		t.Fatalf("expected request id req-nats, got %q", id)
	}
}

func TestQueue_PublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t)
	if err := q.Publish(context.Background(), messagequeue.SubjectRunFinished, []byte(`{"run_id":1}`)); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Fatal("expected connected queue")
	}
}
