package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/orderops/internal/domain"
)

type capturePublisher struct {
	messages []CustomerNotification
	err      error
}

func (p *capturePublisher) PublishCustomerNotification(_ context.Context, message CustomerNotification) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, message)
	return "msg-1", nil
}

func newTestDispatcher(t *testing.T, publisher *capturePublisher) NotificationDispatcher {
	t.Helper()
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher: publisher,
		Clock:     fixedClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}
	return dispatcher
}

func TestNotificationDispatcherStatusChange(t *testing.T) {
	publisher := &capturePublisher{}
	dispatcher := newTestDispatcher(t, publisher)

	order := sampleOrder("ord_1", "ORD-1", domain.OrderStatusShipped)
	order.CustomerEmail = valuePtr("Ada@Example.com")
	order.TrackingNumber = valuePtr("TRK-1")
	order.Notes = `{"items":[{"name":"Stamp","quantity":2,"price":10},{"sku":"INK"},{"quantity":1}]}`

	result := dispatcher.Notify(context.Background(), OrderTransition{Order: order, PreviousStatus: domain.OrderStatusProcessing})
	if result.Status != DispatchSent || result.MessageID != "msg-1" || result.Recipient != "ada@example.com" {
		t.Fatalf("unexpected result %+v", result)
	}
	msg := publisher.messages[0]
	if msg.Template != "order_status_changed" || msg.PreviousStatus != "processing" || msg.Status != "shipped" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Items) != 2 || msg.Items[1].Name != "INK" || msg.Items[1].Quantity != 1 {
		t.Fatalf("unexpected items %+v", msg.Items)
	}
}

func TestNotificationDispatcherTrackingOnly(t *testing.T) {
	publisher := &capturePublisher{}
	dispatcher := newTestDispatcher(t, publisher)

	order := sampleOrder("ord_1", "ORD-1", domain.OrderStatusShipped)
	order.CustomerEmail = nil
	order.ShippingAddress = map[string]any{"email": "ship@example.com"}
	order.TrackingNumber = valuePtr("TRK-2")

	result := dispatcher.Notify(context.Background(), OrderTransition{
		Order: order, PreviousStatus: domain.OrderStatusShipped, PreviousTracking: "TRK-1",
	})
	if result.Status != DispatchSent || result.Recipient != "ship@example.com" {
		t.Fatalf("unexpected result %+v", result)
	}
	if publisher.messages[0].Template != "order_tracking_updated" || publisher.messages[0].PreviousStatus != "" {
		t.Fatalf("unexpected message %+v", publisher.messages[0])
	}
}

func TestNotificationDispatcherSkipsAndFails(t *testing.T) {
	order := sampleOrder("ord_1", "ORD-1", domain.OrderStatusShipped)

	publisher := &capturePublisher{}
	dispatcher := newTestDispatcher(t, publisher)
	if result := dispatcher.Notify(context.Background(), OrderTransition{Order: order, PreviousStatus: domain.OrderStatusShipped}); result.Status != DispatchSkipped {
		t.Fatalf("expected skip without change, got %+v", result)
	}

	noEmail := order
	noEmail.CustomerEmail = nil
	noEmail.Notes = "not json"
	if result := dispatcher.Notify(context.Background(), OrderTransition{Order: noEmail, PreviousStatus: domain.OrderStatusPending}); result.Status != DispatchSkipped || result.Reason != "no recipient" {
		t.Fatalf("expected skip without recipient, got %+v", result)
	}
	if len(publisher.messages) != 0 {
		t.Fatalf("nothing should be published")
	}

	failing := newTestDispatcher(t, &capturePublisher{err: errors.New("topic not found")})
	result := failing.Notify(context.Background(), OrderTransition{Order: order, PreviousStatus: domain.OrderStatusPending})
	if result.Status != DispatchFailed || result.Reason != "topic not found" {
		t.Fatalf("expected failure result, got %+v", result)
	}
}
