package services

import (
	"context"
	"strings"
	"testing"
	"time"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
)

func TestNotificationComposerPickupReady(t *testing.T) {
	composer := NewNotificationComposer("en-IN")
	order := Order{ID: "ord_1", RequesterID: "user_1", ShopID: "shop_1", Total: 16000, Status: domain.OrderStatusReady}
	code := PickupCode{Code: "042317", ExpiresAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}

	n := composer.PickupReady(order, "Campus Prints", code)
	if n.Kind != NotificationPickupReady || n.RecipientID != "user_1" || n.OrderID != "ord_1" {
		t.Fatalf("unexpected envelope %#v", n)
	}
	if !strings.Contains(n.Body, "042317") || !strings.Contains(n.Body, "₹160.00") {
		t.Fatalf("expected code and amount in body, got %q", n.Body)
	}
	if !strings.Contains(n.Subject, "Campus Prints") {
		t.Fatalf("expected shop name in subject, got %q", n.Subject)
	}
}

func TestNotificationComposerFallsBackToDefaultLocale(t *testing.T) {
	composer := NewNotificationComposer("not a locale")
	n := composer.StatusChanged(Order{ID: "ord_1", Status: domain.OrderStatusCancelled})
	if n.Locale != defaultNotificationLocale {
		t.Fatalf("expected %s, got %s", defaultNotificationLocale, n.Locale)
	}
	if !strings.Contains(n.Body, "cancelled") {
		t.Fatalf("expected status label in body, got %q", n.Body)
	}
}

func TestLoggingNotificationDispatcherOmitsBody(t *testing.T) {
	logger := &recordingLogger{}
	dispatcher := NewLoggingNotificationDispatcher(logger.log)
	if err := dispatcher.Send(context.Background(), Notification{Kind: NotificationPickupReady, OrderID: "ord_1", Body: "code 123456"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !logger.has("notification.log_only") {
		t.Fatalf("expected log event")
	}
	for _, fields := range logger.fields {
		for _, v := range fields {
			if s, ok := v.(string); ok && strings.Contains(s, "123456") {
				t.Fatalf("notification body leaked into logs")
			}
		}
	}
}
