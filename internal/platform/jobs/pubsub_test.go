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

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

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
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestNotificationPublisherSendsMessage(t *testing.T) {
	srv, topic := newTestTopic(t, "notifications")
	publisher, err := NewNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewNotificationPublisher: %v", err)
	}

	err = publisher.Send(context.Background(), services.Notification{
		Kind:        services.NotificationPickupReady,
		RecipientID: "user_1",
		OrderID:     "ord_1",
		Subject:     "Your print is ready",
		Body:        "Show code 123456 at the counter",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload notificationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Body != "Show code 123456 at the counter" || payload.RecipientID != "user_1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["confidential"] != "true" || attrs["orderId"] != "ord_1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	for _, v := range attrs {
		if v == "123456" || v == payload.Body {
			t.Fatalf("pickup code leaked into attributes")
		}
	}
}

func TestOrderEventPublisherUsesOrderingKey(t *testing.T) {
	srv, topic := newTestTopic(t, "order-events")
	publisher, err := NewOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewOrderEventPublisher: %v", err)
	}

	occurred := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, status := range []string{"PRINTING", "READY"} {
		err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
			Type:          "order.status_changed",
			OrderID:       "ord_1",
			ShopID:        "shop_1",
			CurrentStatus: status,
			ActorID:       "op_1",
			OccurredAt:    occurred,
		})
		if err != nil {
			t.Fatalf("PublishOrderEvent: %v", err)
		}
	}

	messages := srv.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	for _, msg := range messages {
		if msg.OrderingKey != "ord_1" {
			t.Fatalf("expected ordering key ord_1, got %q", msg.OrderingKey)
		}
	}
	var first orderEventMessage
	if err := json.Unmarshal(messages[0].Data, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.CurrentStatus != "PRINTING" || !first.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected first event %#v", first)
	}
}

func TestPublishersRequireTopic(t *testing.T) {
	if _, err := NewNotificationPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
