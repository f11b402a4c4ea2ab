package jobs

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hanko-field/orderops/internal/services"
)

// LogNotificationPublisher writes notifications to the log instead of a broker. It backs local
// development when no Pub/Sub project is configured.
type LogNotificationPublisher struct {
	logger *zap.Logger
}

// NewLogNotificationPublisher constructs a log-only publisher.
func NewLogNotificationPublisher(logger *zap.Logger) *LogNotificationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationPublisher{logger: logger}
}

// PublishCustomerNotification logs the message and returns a synthetic id.
func (p *LogNotificationPublisher) PublishCustomerNotification(_ context.Context, message services.CustomerNotification) (string, error) {
	id := "log_" + strings.ToLower(ulid.Make().String())
	p.logger.Info("customer notification",
		zap.String("message_id", id),
		zap.String("template", message.Template),
		zap.String("order_number", message.OrderNumber),
		zap.String("status", message.Status),
		zap.Int("items", len(message.Items)),
	)
	return id, nil
}
