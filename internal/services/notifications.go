package services

import (
	"context"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
)

const (
	NotificationPickupReady   = "order.pickup_ready"
	NotificationStatusChanged = "order.status_changed"

	defaultNotificationLocale = "en-IN"
)

// Notification is the message handed to the dispatcher. Body may carry a pickup code and
// therefore must not be logged.
type Notification struct {
	Kind        string
	RecipientID string
	OrderID     string
	ShopID      string
	Locale      string
	Subject     string
	Body        string
}

// NotificationComposer renders requester-facing messages for a locale.
type NotificationComposer struct {
	tag     language.Tag
	printer *message.Printer
}

// NewNotificationComposer builds a composer; unknown locales fall back to en-IN.
func NewNotificationComposer(locale string) *NotificationComposer {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.MustParse(defaultNotificationLocale)
	}
	return &NotificationComposer{tag: tag, printer: message.NewPrinter(tag)}
}

// Amount formats paise as rupees with locale digit grouping, for example ₹1,600.00.
func (c *NotificationComposer) Amount(m Money) string {
	rupees, paise := m.Split()
	return c.printer.Sprintf("₹%d.%02d", rupees, paise)
}

// PickupReady renders the pickup code message.
func (c *NotificationComposer) PickupReady(order Order, shopName string, code PickupCode) Notification {
	if shopName == "" {
		shopName = "the shop"
	}
	return Notification{
		Kind:        NotificationPickupReady,
		RecipientID: order.RequesterID,
		OrderID:     order.ID,
		ShopID:      order.ShopID,
		Locale:      c.tag.String(),
		Subject:     c.printer.Sprintf("Your print order is ready at %s", shopName),
		Body: c.printer.Sprintf(
			"Order %s (%s) is ready for pickup. Show code %s at the counter. The code expires %s.",
			order.ID, c.Amount(order.Total), code.Code, code.ExpiresAt.UTC().Format(time.RFC1123),
		),
	}
}

// StatusChanged renders a plain status update.
func (c *NotificationComposer) StatusChanged(order Order) Notification {
	return Notification{
		Kind:        NotificationStatusChanged,
		RecipientID: order.RequesterID,
		OrderID:     order.ID,
		ShopID:      order.ShopID,
		Locale:      c.tag.String(),
		Subject:     c.printer.Sprintf("Order %s is now %s", order.ID, statusLabel(order.Status)),
		Body:        c.printer.Sprintf("Your print order %s is now %s.", order.ID, statusLabel(order.Status)),
	}
}

func statusLabel(status OrderStatus) string {
	switch status {
	case domain.OrderStatusPaid:
		return "paid"
	case domain.OrderStatusPrinting:
		return "printing"
	case domain.OrderStatusReady:
		return "ready for pickup"
	case domain.OrderStatusCompleted:
		return "collected"
	case domain.OrderStatusCancelled:
		return "cancelled"
	default:
		return "submitted"
	}
}

// LoggingNotificationDispatcher records that a notification would have been sent without
// delivering it. Message bodies are not logged because they may carry a pickup code.
type LoggingNotificationDispatcher struct {
	logger func(context.Context, string, map[string]any)
}

// NewLoggingNotificationDispatcher returns a dispatcher for deployments without a topic.
func NewLoggingNotificationDispatcher(logger func(context.Context, string, map[string]any)) *LoggingNotificationDispatcher {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LoggingNotificationDispatcher{logger: logger}
}

// Send implements NotificationDispatcher.
func (d *LoggingNotificationDispatcher) Send(ctx context.Context, n Notification) error {
	d.logger(ctx, "notification.log_only", map[string]any{
		"kind":        n.Kind,
		"orderId":     n.OrderID,
		"recipientId": n.RecipientID,
	})
	return nil
}
