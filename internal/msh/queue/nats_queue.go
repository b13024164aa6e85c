// Package queue adapts the platform message broker to the durable dispatch
// queue contract.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/platform/messagebroker"
)

// NATSQueue publishes dispatch units as JSON to NATS subjects. After a
// successful publish the broker owns delivery: at-least-once, no ordering
// guarantee across different messages.
type NATSQueue struct {
	client *messagebroker.NATSClient
	logger *slog.Logger
}

// NewNATSQueue creates a new NATSQueue.
func NewNATSQueue(client *messagebroker.NATSClient, logger *slog.Logger) *NATSQueue {
	return &NATSQueue{client: client, logger: logger.With("component", "nats_queue")}
}

// SendMessageToQueue serializes the unit and publishes it to the subject
// named by queue.
func (q *NATSQueue) SendMessageToQueue(ctx context.Context, unit *domain.DispatchUnit, queue domain.QueueRef) error {
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("could not marshal dispatch unit: %w", err)
	}
	if err := q.client.Publish(ctx, string(queue), data); err != nil {
		return err
	}
	q.logger.DebugContext(ctx, "Dispatch unit enqueued", "queue", queue, "type", unit.Type, "message_id", unit.MessageID)
	return nil
}
