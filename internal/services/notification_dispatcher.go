package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	notificationTemplateStatus   = "order_status_changed"
	notificationTemplateTracking = "order_tracking_updated"

	notificationEventSent    = "notification.sent"
	notificationEventFailed  = "notification.failed"
	notificationEventSkipped = "notification.skipped"
)

// CustomerNotificationPublisher hands a composed message to the delivery transport.
type CustomerNotificationPublisher interface {
	PublishCustomerNotification(ctx context.Context, message CustomerNotification) (string, error)
}

// CustomerNotification is the payload published for customer-facing order updates.
type CustomerNotification struct {
	Template       string             `json:"template"`
	OrderNumber    string             `json:"orderNumber"`
	Recipient      string             `json:"recipient"`
	CustomerName   string             `json:"customerName,omitempty"`
	Status         string             `json:"status"`
	PreviousStatus string             `json:"previousStatus,omitempty"`
	TrackingNumber string             `json:"trackingNumber,omitempty"`
	Total          float64            `json:"total"`
	Items          []NotificationItem `json:"items,omitempty"`
	OccurredAt     time.Time          `json:"occurredAt"`
}

// NotificationItem is a line item snapshot recovered from the order notes.
type NotificationItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price,omitempty"`
}

// NotificationDispatcherDeps bundles collaborators for the dispatcher.
type NotificationDispatcherDeps struct {
	Publisher CustomerNotificationPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	publisher CustomerNotificationPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewNotificationDispatcher constructs a dispatcher that publishes through the supplied transport.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationDispatcher{
		publisher: deps.Publisher,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Notify publishes a message when the status or tracking number actually changed. It never
// returns an error; failures are logged and reported in the result.
func (d *notificationDispatcher) Notify(ctx context.Context, transition OrderTransition) DispatchResult {
	order := transition.Order
	tracking := derefString(order.TrackingNumber)
	statusChanged := transition.PreviousStatus != "" && order.Status != transition.PreviousStatus
	trackingChanged := tracking != transition.PreviousTracking

	if !statusChanged && !trackingChanged {
		return DispatchResult{Status: DispatchSkipped, Reason: "no customer visible change"}
	}

	notes := parseNotes(order.Notes)
	recipient := firstNonEmpty(derefString(order.CustomerEmail), notes.Email, stringField(order.ShippingAddress, "email"))
	if recipient == "" {
		d.logger(ctx, notificationEventSkipped, map[string]any{"orderNumber": order.OrderNumber, "reason": "no recipient"})
		return DispatchResult{Status: DispatchSkipped, Reason: "no recipient"}
	}

	template := notificationTemplateStatus
	if !statusChanged {
		template = notificationTemplateTracking
	}
	message := CustomerNotification{
		Template:       template,
		OrderNumber:    order.OrderNumber,
		Recipient:      strings.ToLower(recipient),
		CustomerName:   firstNonEmpty(order.CustomerName, stringField(order.ShippingAddress, "name")),
		Status:         string(order.Status),
		TrackingNumber: tracking,
		Total:          order.Total,
		Items:          notes.Items,
		OccurredAt:     d.clock(),
	}
	if statusChanged {
		message.PreviousStatus = string(transition.PreviousStatus)
	}

	messageID, err := d.publisher.PublishCustomerNotification(ctx, message)
	if err != nil {
		d.logger(ctx, notificationEventFailed, map[string]any{
			"orderNumber": order.OrderNumber,
			"template":    template,
			"error":       err.Error(),
		})
		return DispatchResult{Status: DispatchFailed, Recipient: message.Recipient, Reason: err.Error()}
	}
	d.logger(ctx, notificationEventSent, map[string]any{
		"orderNumber": order.OrderNumber,
		"template":    template,
		"messageId":   messageID,
	})
	return DispatchResult{Status: DispatchSent, Recipient: message.Recipient, MessageID: messageID}
}

type orderNotes struct {
	Email string
	Items []NotificationItem
}

// parseNotes reads the optional JSON object stored in order notes. Anything malformed yields defaults.
func parseNotes(raw string) orderNotes {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '{' {
		return orderNotes{}
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return orderNotes{}
	}
	notes := orderNotes{Email: stringField(decoded, "email")}
	list, _ := decoded["items"].([]any)
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := NotificationItem{
			Name:     firstNonEmpty(stringField(obj, "name"), stringField(obj, "product_name"), stringField(obj, "sku")),
			Quantity: int(numberField(obj, "quantity")),
			Price:    numberField(obj, "price"),
		}
		if item.Name == "" {
			continue
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		notes.Items = append(notes.Items, item)
	}
	return notes
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func numberField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
