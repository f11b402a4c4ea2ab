package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orderops/internal/services"
)

// PubSubNotificationPublisher publishes customer notifications to a Pub/Sub topic consumed by the
// mail delivery worker.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCustomerNotification enqueues the message and waits for the server-assigned id.
func (p *PubSubNotificationPublisher) PublishCustomerNotification(ctx context.Context, message services.CustomerNotification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal customer notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "template", message.Template)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "status", message.Status)
	if key := dedupeKey(message); key != "" {
		attrs["idempotencyKey"] = key
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish customer notification: %w", err)
	}
	return id, nil
}

// Ready reports whether the configured topic exists.
func (p *PubSubNotificationPublisher) Ready(ctx context.Context) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check topic %s: %w", p.topic.ID(), err)
	}
	if !ok {
		return fmt.Errorf("topic %s does not exist", p.topic.ID())
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubNotificationPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// dedupeKey lets consumers drop redeliveries of the same transition.
func dedupeKey(message services.CustomerNotification) string {
	order := strings.TrimSpace(message.OrderNumber)
	if order == "" {
		return ""
	}
	parts := []string{order, strings.TrimSpace(message.Template), strings.TrimSpace(message.Status)}
	if tracking := strings.TrimSpace(message.TrackingNumber); tracking != "" {
		parts = append(parts, tracking)
	}
	return strings.Join(parts, ":")
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
