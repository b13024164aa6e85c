package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

var dispatchScheduledCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "msh",
		Name:      "dispatch_scheduled_total",
		Help:      "Total number of dispatch units handed to the durable queue.",
	},
	[]string{"queue", "outcome"},
)

// QueueConfig names the durable queue destinations.
type QueueConfig struct {
	SendMessage      domain.QueueRef
	SendLargeMessage domain.QueueRef
	SplitAndJoin     domain.QueueRef
}

// DispatchScheduler builds dispatch units and hands them to the durable
// queue, choosing the large-message queue for split-and-join traffic and a
// priority-tagged unit on the normal queue otherwise.
type DispatchScheduler struct {
	queue    domain.DurableQueue
	msgRepo  domain.MessageRepository
	logRepo  domain.MessageLogRepository
	priority domain.PriorityResolver
	queues   QueueConfig
	logger   *slog.Logger
}

// NewDispatchScheduler creates a new DispatchScheduler.
func NewDispatchScheduler(
	queue domain.DurableQueue,
	msgRepo domain.MessageRepository,
	logRepo domain.MessageLogRepository,
	priority domain.PriorityResolver,
	queues QueueConfig,
	logger *slog.Logger,
) *DispatchScheduler {
	return &DispatchScheduler{
		queue:    queue,
		msgRepo:  msgRepo,
		logRepo:  logRepo,
		priority: priority,
		queues:   queues,
		logger:   logger.With("component", "dispatch_scheduler"),
	}
}

// ScheduleSending enqueues a send unit for the message and marks its log as
// scheduled. The scheduled flag, together with nextAttempt, is how the
// resend path tells "already queued" apart from "needs a fresh restore".
func (s *DispatchScheduler) ScheduleSending(ctx context.Context, tenant domain.Tenant, msg *domain.Message, log *domain.MessageLog) error {
	unit := &domain.DispatchUnit{
		Type:      domain.DispatchTypeSend,
		Tenant:    tenant.String(),
		MessageID: msg.MessageID,
	}
	return s.dispatch(ctx, tenant, msg, log, unit)
}

// ScheduleSendingWithDelay enqueues a delayed send unit, used by resends
// that must not fire immediately.
func (s *DispatchScheduler) ScheduleSendingWithDelay(ctx context.Context, tenant domain.Tenant, messageID string, delay time.Duration) error {
	msg, err := s.msgRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		return fmt.Errorf("could not load message %s: %w", messageID, err)
	}
	log, err := s.logRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		return fmt.Errorf("could not load message log %s: %w", messageID, err)
	}

	unit := &domain.DispatchUnit{
		Type:        domain.DispatchTypeSend,
		Tenant:      tenant.String(),
		MessageID:   messageID,
		DelayMillis: delay.Milliseconds(),
	}
	return s.dispatch(ctx, tenant, msg, log, unit)
}

// ScheduleSendingWithRetryCount enqueues a send unit carrying the current
// retry counter, used by the send-attempt path when rescheduling.
func (s *DispatchScheduler) ScheduleSendingWithRetryCount(ctx context.Context, tenant domain.Tenant, log *domain.MessageLog, retryCount int) error {
	msg, err := s.msgRepo.FindByMessageID(ctx, tenant, log.MessageID, log.Role)
	if err != nil {
		return fmt.Errorf("could not load message %s: %w", log.MessageID, err)
	}

	unit := &domain.DispatchUnit{
		Type:       domain.DispatchTypeSend,
		Tenant:     tenant.String(),
		MessageID:  log.MessageID,
		RetryCount: retryCount,
	}
	return s.dispatch(ctx, tenant, msg, log, unit)
}

// ScheduleSourceMessageSending enqueues a split-and-join source message on
// the large-message queue once its payloads have been written.
func (s *DispatchScheduler) ScheduleSourceMessageSending(ctx context.Context, tenant domain.Tenant, messageID string) error {
	unit := &domain.DispatchUnit{
		Type:      domain.DispatchTypeSourceMessageSend,
		Tenant:    tenant.String(),
		MessageID: messageID,
	}
	s.logger.DebugContext(ctx, "Sending source message unit to large message queue", "message_id", messageID)
	return s.send(ctx, unit, s.queues.SendLargeMessage)
}

// ScheduleSplitAndJoinSendFailed enqueues the command that marks a message
// group as failed.
func (s *DispatchScheduler) ScheduleSplitAndJoinSendFailed(ctx context.Context, tenant domain.Tenant, groupID, errorDetail string) error {
	unit := &domain.DispatchUnit{
		Type:        domain.DispatchTypeSplitAndJoinSendFailed,
		Tenant:      tenant.String(),
		GroupID:     groupID,
		ErrorDetail: errorDetail,
	}
	s.logger.DebugContext(ctx, "Scheduling marking the group as failed", "group_id", groupID)
	return s.send(ctx, unit, s.queues.SplitAndJoin)
}

// ScheduleSetFragmentAsFailed enqueues the command that marks a single
// fragment as failed.
func (s *DispatchScheduler) ScheduleSetFragmentAsFailed(ctx context.Context, tenant domain.Tenant, messageID string) error {
	unit := &domain.DispatchUnit{
		Type:      domain.DispatchTypeFragmentSendFailed,
		Tenant:    tenant.String(),
		MessageID: messageID,
	}
	s.logger.DebugContext(ctx, "Scheduling marking the fragment as failed", "message_id", messageID)
	return s.send(ctx, unit, s.queues.SplitAndJoin)
}

// dispatch picks the queue, enqueues the unit and persists the scheduled
// flag. There is no two-phase coordination between the relational store and
// the broker; callers must tolerate a crash between the two steps.
func (s *DispatchScheduler) dispatch(ctx context.Context, tenant domain.Tenant, msg *domain.Message, log *domain.MessageLog, unit *domain.DispatchUnit) error {
	queue := s.queues.SendMessage
	if msg.SplitAndJoin() {
		queue = s.queues.SendLargeMessage
		s.logger.DebugContext(ctx, "Sending message to large message queue", "message_id", msg.MessageID)
	} else {
		priority, err := s.priority.Priority(ctx, tenant, msg.Service, msg.Action)
		if err != nil {
			return fmt.Errorf("could not resolve priority for message %s: %w", msg.MessageID, err)
		}
		unit.Priority = priority
		s.logger.DebugContext(ctx, "Sending message to send message queue", "message_id", msg.MessageID, "priority", priority)
	}

	if err := s.send(ctx, unit, queue); err != nil {
		return err
	}

	log.Scheduled = true
	if err := s.logRepo.Update(ctx, tenant, log); err != nil {
		return fmt.Errorf("could not mark message %s as scheduled: %w", msg.MessageID, err)
	}
	return nil
}

func (s *DispatchScheduler) send(ctx context.Context, unit *domain.DispatchUnit, queue domain.QueueRef) error {
	if err := s.queue.SendMessageToQueue(ctx, unit, queue); err != nil {
		dispatchScheduledCounter.WithLabelValues(string(queue), "error").Inc()
		return fmt.Errorf("could not enqueue dispatch unit: %w", err)
	}
	dispatchScheduledCounter.WithLabelValues(string(queue), "success").Inc()
	return nil
}
