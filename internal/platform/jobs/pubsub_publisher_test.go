package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestTopic(t *testing.T, srv *pstest.Server, name string) *pubsub.Topic {
	t.Helper()
	ctx := context.Background()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return topic
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	topic := newTestTopic(t, srv, "order-events")

	publisher, err := NewPubSubEventPublisher(topic, nil)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	msg := EventMessage{
		EventID:    "evt_test",
		Kind:       "order.paid",
		SubjectRef: "orders/ord_1",
		UserID:     "user-1",
		Payload:    map[string]any{"total": float64(2500)},
		OccurredAt: occurredAt,
	}

	if _, err := publisher.PublishOrderEvent(ctx, msg); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload EventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EventID != msg.EventID || payload.Kind != msg.Kind {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["kind"]; attr != "order.paid" {
		t.Fatalf("expected kind attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["subjectRef"]; attr != "orders/ord_1" {
		t.Fatalf("expected subjectRef attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherMissingTopic(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	topic := newTestTopic(t, srv, "recycling-events")

	publisher, err := NewPubSubEventPublisher(nil, topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	if _, err := publisher.PublishOrderEvent(ctx, EventMessage{EventID: "evt"}); err == nil {
		t.Fatal("expected error publishing to unconfigured order topic")
	}
	if _, err := publisher.PublishRecyclingEvent(ctx, EventMessage{EventID: "evt"}); err != nil {
		t.Fatalf("PublishRecyclingEvent: %v", err)
	}

	if _, err := NewPubSubEventPublisher(nil, nil); err == nil {
		t.Fatal("expected error when no topics configured")
	}
}
