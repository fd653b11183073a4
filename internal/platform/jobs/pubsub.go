// Package jobs publishes workflow messages to Pub/Sub for out-of-process workers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

var (
	_ services.NotificationDispatcher = (*NotificationPublisher)(nil)
	_ services.OrderEventPublisher    = (*OrderEventPublisher)(nil)
)

// NotificationPublisher hands requester notifications to the delivery worker topic.
// The payload may contain a pickup code, so it is marked confidential and never logged.
type NotificationPublisher struct {
	topic *pubsub.Topic
}

// NewNotificationPublisher constructs a publisher on topic.
func NewNotificationPublisher(topic *pubsub.Topic) (*NotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("notification publisher: topic is required")
	}
	return &NotificationPublisher{topic: topic}, nil
}

type notificationMessage struct {
	Kind        string `json:"kind"`
	RecipientID string `json:"recipientId"`
	OrderID     string `json:"orderId"`
	ShopID      string `json:"shopId,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// Send implements services.NotificationDispatcher and waits for the server ack so a
// failure is visible to the caller.
func (p *NotificationPublisher) Send(ctx context.Context, n services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("notification publisher: not initialised")
	}
	data, err := json.Marshal(notificationMessage{
		Kind:        n.Kind,
		RecipientID: n.RecipientID,
		OrderID:     n.OrderID,
		ShopID:      n.ShopID,
		Locale:      n.Locale,
		Subject:     n.Subject,
		Body:        n.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	attrs := map[string]string{"confidential": "true"}
	setAttr(attrs, "kind", n.Kind)
	setAttr(attrs, "orderId", n.OrderID)
	setAttr(attrs, "recipientId", n.RecipientID)

	if _, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// OrderEventPublisher emits order lifecycle events keyed by order id, so consumers of an
// ordered subscription see one order's events in sequence.
type OrderEventPublisher struct {
	topic *pubsub.Topic
}

// NewOrderEventPublisher enables message ordering on topic and returns a publisher.
func NewOrderEventPublisher(topic *pubsub.Topic) (*OrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &OrderEventPublisher{topic: topic}, nil
}

type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	ShopID         string         `json:"shopId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("order event publisher: not initialised")
	}
	data, err := json.Marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		ShopID:         event.ShopID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)

	if _, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	}).Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
