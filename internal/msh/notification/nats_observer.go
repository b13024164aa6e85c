// Package notification publishes lifecycle events for backend plugins.
package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/platform/messagebroker"
)

// StatusChangeEvent is the wire form of a lifecycle notification.
type StatusChangeEvent struct {
	Event       string    `json:"event"`
	Tenant      string    `json:"tenant"`
	MessageID   string    `json:"message_id"`
	Role        string    `json:"role"`
	FromStatus  string    `json:"from_status,omitempty"`
	ToStatus    string    `json:"to_status,omitempty"`
	BackendName string    `json:"backend_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NATSObserver publishes status-change and deletion events to the broker so
// backend plugins can subscribe without coupling to the engine. Notification
// is fire-and-forget: a failed publish is logged, never propagated into the
// lifecycle operation that triggered it.
type NATSObserver struct {
	client  *messagebroker.NATSClient
	subject string
	logger  *slog.Logger
}

// NewNATSObserver creates a new NATSObserver.
func NewNATSObserver(client *messagebroker.NATSClient, subject string, logger *slog.Logger) *NATSObserver {
	return &NATSObserver{client: client, subject: subject, logger: logger.With("component", "notification_observer")}
}

// NotifyOfStatusChange implements domain.NotificationObserver.
func (o *NATSObserver) NotifyOfStatusChange(ctx context.Context, tenant domain.Tenant, msg *domain.Message, log *domain.MessageLog, newStatus domain.MessageStatus, when time.Time) {
	o.publish(ctx, StatusChangeEvent{
		Event:       "status_change",
		Tenant:      tenant.String(),
		MessageID:   msg.MessageID,
		Role:        string(log.Role),
		FromStatus:  string(log.Status),
		ToStatus:    string(newStatus),
		BackendName: log.BackendName,
		Timestamp:   when,
	})
}

// NotifyMessageDeleted implements domain.NotificationObserver.
func (o *NATSObserver) NotifyMessageDeleted(ctx context.Context, tenant domain.Tenant, msg *domain.Message, log *domain.MessageLog) {
	o.publish(ctx, StatusChangeEvent{
		Event:       "message_deleted",
		Tenant:      tenant.String(),
		MessageID:   msg.MessageID,
		Role:        string(log.Role),
		FromStatus:  string(log.Status),
		BackendName: log.BackendName,
		Timestamp:   time.Now().UTC(),
	})
}

func (o *NATSObserver) publish(ctx context.Context, event StatusChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		o.logger.ErrorContext(ctx, "Could not marshal notification event", "error", err)
		return
	}
	if err := o.client.Publish(ctx, o.subject, data); err != nil {
		o.logger.ErrorContext(ctx, "Could not publish notification event",
			"event", event.Event, "message_id", event.MessageID, "error", err)
	}
}
