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

var restoreCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "msh",
		Name:      "message_restores_total",
		Help:      "Total number of restore operations by outcome.",
	},
	[]string{"outcome"},
)

// RestoreFailure records one message that could not be restored in a batch.
type RestoreFailure struct {
	MessageID string
	Err       error
}

// RestoreReport is the result of a best-effort batch restore. Failures are
// collected, not propagated: one bad message never blocks the rest.
type RestoreReport struct {
	Restored []string
	Failed   []RestoreFailure
}

// RestoreService recovers failed messages: it recomputes their status,
// grows the retry budget and either reschedules a push dispatch or hands
// the message off to pull mode.
type RestoreService struct {
	msgRepo     domain.MessageRepository
	logRepo     domain.MessageLogRepository
	resolver    domain.RestoreStatusResolver
	legProvider domain.LegConfigurationProvider
	pullLock    domain.PullLockService
	observer    domain.NotificationObserver
	audit       domain.AuditSink
	scheduler   *DispatchScheduler

	// resendCooldown is the minimum age an enqueued message must reach
	// before a manual resend is accepted.
	resendCooldown time.Duration

	logger *slog.Logger
}

// NewRestoreService creates a new RestoreService.
func NewRestoreService(
	msgRepo domain.MessageRepository,
	logRepo domain.MessageLogRepository,
	resolver domain.RestoreStatusResolver,
	legProvider domain.LegConfigurationProvider,
	pullLock domain.PullLockService,
	observer domain.NotificationObserver,
	audit domain.AuditSink,
	scheduler *DispatchScheduler,
	resendCooldown time.Duration,
	logger *slog.Logger,
) *RestoreService {
	return &RestoreService{
		msgRepo:        msgRepo,
		logRepo:        logRepo,
		resolver:       resolver,
		legProvider:    legProvider,
		pullLock:       pullLock,
		observer:       observer,
		audit:          audit,
		scheduler:      scheduler,
		resendCooldown: resendCooldown,
		logger:         logger.With("component", "restore_service"),
	}
}

// GetMessage loads the log row for a message id and role.
func (s *RestoreService) GetMessage(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (*domain.MessageLog, error) {
	return s.logRepo.FindByMessageID(ctx, tenant, messageID, role)
}

// FindFailedMessages lists failed message ids inside [start, end], optionally
// narrowed to a final recipient or original user.
func (s *RestoreService) FindFailedMessages(ctx context.Context, tenant domain.Tenant, start, end time.Time, finalRecipient, originalUser string) ([]string, error) {
	return s.logRepo.FindFailedMessages(ctx, tenant, start, end, finalRecipient, originalUser)
}

// GetFailedMessage loads the sending-role log for the message and verifies
// it is in SEND_FAILURE.
func (s *RestoreService) GetFailedMessage(ctx context.Context, tenant domain.Tenant, messageID string) (*domain.MessageLog, error) {
	log, err := s.logRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		return nil, err
	}
	if log.Status != domain.StatusSendFailure {
		return nil, fmt.Errorf("message %s status is %s, not %s: %w",
			messageID, log.Status, domain.StatusSendFailure, domain.ErrInvalidStatus)
	}
	return log, nil
}

// FailedMessageElapsedTime returns how long ago the message failed.
func (s *RestoreService) FailedMessageElapsedTime(ctx context.Context, tenant domain.Tenant, messageID string) (time.Duration, error) {
	log, err := s.GetFailedMessage(ctx, tenant, messageID)
	if err != nil {
		return 0, err
	}
	if log.Failed == nil {
		return 0, fmt.Errorf("message %s has no failed timestamp: %w", messageID, domain.ErrInvalidStatus)
	}
	return time.Since(*log.Failed), nil
}

// RestoreFailedMessage moves a failed message back into a schedulable
// state. The retry budget grows unconditionally on every restore; repeated
// restores keep raising the ceiling, they never reset it.
func (s *RestoreService) RestoreFailedMessage(ctx context.Context, tenant domain.Tenant, messageID string) error {
	s.logger.InfoContext(ctx, "Restoring message", "tenant", tenant, "message_id", messageID, "role", domain.RoleSending)

	log, err := s.logRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		restoreCounter.WithLabelValues("error").Inc()
		return err
	}
	if log.Status == domain.StatusDeleted {
		restoreCounter.WithLabelValues("rejected").Inc()
		return fmt.Errorf("could not restore message %s: %w", messageID, domain.ErrMessageDeleted)
	}
	if log.Status != domain.StatusSendFailure {
		restoreCounter.WithLabelValues("rejected").Inc()
		return fmt.Errorf("message %s status is %s, not %s: %w",
			messageID, log.Status, domain.StatusSendFailure, domain.ErrInvalidStatus)
	}

	msg, err := s.msgRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		restoreCounter.WithLabelValues("error").Inc()
		return err
	}

	newStatus, err := s.resolver.ResolveRestoreStatus(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		restoreCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("could not resolve restore status for message %s: %w", messageID, err)
	}

	now := time.Now().UTC()
	s.observer.NotifyOfStatusChange(ctx, tenant, msg, log, newStatus, now)

	log.SetStatus(newStatus)
	log.Restored = &now
	log.Failed = nil
	log.NextAttempt = &now

	newMax := s.computeNewMaxAttempts(ctx, tenant, log)
	s.logger.DebugContext(ctx, "Increasing the max attempts", "message_id", messageID,
		"from", log.SendAttemptsMax, "to", newMax)
	log.SendAttemptsMax = newMax

	if err := s.logRepo.Update(ctx, tenant, log); err != nil {
		restoreCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("could not update message log %s: %w", messageID, err)
	}

	if newStatus != domain.StatusReadyToPull {
		if err := s.scheduler.ScheduleSending(ctx, tenant, msg, log); err != nil {
			// The status change is already persisted; a failed enqueue is
			// logged and left for the retry machinery to pick up.
			s.logger.ErrorContext(ctx, "Error scheduling restored message", "message_id", messageID, "error", err)
		}
	} else {
		s.logger.DebugContext(ctx, "Acquiring pull lock for restored message", "message_id", messageID)
		if err := s.pullLock.AddPullMessageLock(ctx, tenant, msg, log); err != nil {
			// A failed pull-lock attempt does not roll back the restore.
			s.logger.ErrorContext(ctx, "Error restoring message to ready to pull", "message_id", messageID, "error", err)
		}
	}

	restoreCounter.WithLabelValues("success").Inc()
	return nil
}

// SendEnqueuedMessage re-triggers dispatch for a message that was accepted
// but never sent. Only valid on SEND_ENQUEUED.
func (s *RestoreService) SendEnqueuedMessage(ctx context.Context, tenant domain.Tenant, messageID string) error {
	s.logger.InfoContext(ctx, "Sending enqueued message", "tenant", tenant, "message_id", messageID)

	log, err := s.logRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		return err
	}
	if log.Status != domain.StatusSendEnqueued {
		return fmt.Errorf("message %s status is %s, not %s: %w",
			messageID, log.Status, domain.StatusSendEnqueued, domain.ErrInvalidStatus)
	}

	if s.resendCooldown > 0 {
		earliest := log.Received.Add(s.resendCooldown)
		if remaining := time.Until(earliest); remaining > 0 {
			return fmt.Errorf("message %s can be resent in %s: %w",
				messageID, remaining.Round(time.Minute), domain.ErrResendTooSoon)
		}
	}
	if log.NextAttempt != nil {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrAlreadyScheduled)
	}

	msg, err := s.msgRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	log.NextAttempt = &now
	if err := s.logRepo.Update(ctx, tenant, log); err != nil {
		return fmt.Errorf("could not update message log %s: %w", messageID, err)
	}
	return s.scheduler.ScheduleSending(ctx, tenant, msg, log)
}

// ResendFailedOrSendEnqueuedMessage resends an enqueued message directly or
// restores a failed one, and records a resent audit event on success.
func (s *RestoreService) ResendFailedOrSendEnqueuedMessage(ctx context.Context, tenant domain.Tenant, messageID string) error {
	log, err := s.logRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		return err
	}

	if log.Status == domain.StatusSendEnqueued {
		err = s.SendEnqueuedMessage(ctx, tenant, messageID)
	} else {
		err = s.RestoreFailedMessage(ctx, tenant, messageID)
	}
	if err != nil {
		return err
	}

	if auditErr := s.audit.RecordResent(ctx, tenant, messageID); auditErr != nil {
		s.logger.ErrorContext(ctx, "Could not record resent audit event", "message_id", messageID, "error", auditErr)
	}
	return nil
}

// RestoreFailedMessagesDuringPeriod restores every message that failed in
// the given window, best effort: each message is its own unit of work and a
// per-item failure is collected into the report instead of aborting the
// batch.
func (s *RestoreService) RestoreFailedMessagesDuringPeriod(ctx context.Context, tenant domain.Tenant, start, end time.Time, finalRecipient, originalUser string) (*RestoreReport, error) {
	failedMessages, err := s.logRepo.FindFailedMessages(ctx, tenant, start, end, finalRecipient, originalUser)
	if err != nil {
		return nil, fmt.Errorf("could not list failed messages: %w", err)
	}
	s.logger.DebugContext(ctx, "Found failed messages to restore",
		"count", len(failedMessages), "start", start, "end", end, "final_recipient", finalRecipient)

	return s.restoreEach(ctx, tenant, failedMessages), nil
}

// BatchRestoreFailedMessages restores the given ids, falling back to a
// period scan when no ids are supplied.
func (s *RestoreService) BatchRestoreFailedMessages(ctx context.Context, tenant domain.Tenant, messageIDs []string, start, end time.Time, finalRecipient, originalUser string) (*RestoreReport, error) {
	if len(messageIDs) == 0 {
		return s.RestoreFailedMessagesDuringPeriod(ctx, tenant, start, end, finalRecipient, originalUser)
	}
	return s.restoreEach(ctx, tenant, messageIDs), nil
}

func (s *RestoreService) restoreEach(ctx context.Context, tenant domain.Tenant, messageIDs []string) *RestoreReport {
	report := &RestoreReport{}
	for _, messageID := range messageIDs {
		if err := s.RestoreFailedMessage(ctx, tenant, messageID); err != nil {
			s.logger.ErrorContext(ctx, "Failed to restore message", "message_id", messageID, "error", err)
			report.Failed = append(report.Failed, RestoreFailure{MessageID: messageID, Err: err})
			continue
		}
		report.Restored = append(report.Restored, messageID)
	}
	s.logger.DebugContext(ctx, "Batch restore finished",
		"restored", len(report.Restored), "failed", len(report.Failed))
	return report
}

// computeNewMaxAttempts always increases the budget, even when the current
// attempts never reached it: configured max retries plus one for the
// initial reattempt, on top of the previous ceiling.
func (s *RestoreService) computeNewMaxAttempts(ctx context.Context, tenant domain.Tenant, log *domain.MessageLog) int {
	maxAttempts := 1
	leg, err := s.legProvider.GetLegConfiguration(ctx, tenant, log.MessageID, log.Role)
	if err != nil || leg == nil {
		s.logger.WarnContext(ctx, "Could not get the leg configuration, using the default max attempts",
			"message_id", log.MessageID, "max_attempts", maxAttempts, "error", err)
	} else {
		maxAttempts = leg.MaxAttempts
	}
	return log.SendAttemptsMax + maxAttempts + 1
}

// IsRetryable is a helper for the send-attempt path: it decides between
// WAITING_FOR_RETRY and SEND_FAILURE after a failed attempt.
func IsRetryable(log *domain.MessageLog) bool {
	return !log.AttemptsExhausted()
}
