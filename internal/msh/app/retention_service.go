package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

var retentionDeletedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "msh",
		Name:      "retention_deleted_total",
		Help:      "Total number of records purged by the retention processor.",
	},
	[]string{"record"},
)

// RetentionService purges messages in terminal states: single logical
// deletes that preserve audit history, and dependency-ordered bulk deletes
// for the housekeeping job.
type RetentionService struct {
	msgRepo      domain.MessageRepository
	logRepo      domain.MessageLogRepository
	signalRepo   domain.SignalMessageRepository
	housekeeping domain.HousekeepingRepository
	payload      domain.PayloadPersistenceProvider
	observer     domain.NotificationObserver

	retentionPeriod time.Duration
	batchSize       int

	logger *slog.Logger
}

// NewRetentionService creates a new RetentionService.
func NewRetentionService(
	msgRepo domain.MessageRepository,
	logRepo domain.MessageLogRepository,
	signalRepo domain.SignalMessageRepository,
	housekeeping domain.HousekeepingRepository,
	payload domain.PayloadPersistenceProvider,
	observer domain.NotificationObserver,
	retentionPeriod time.Duration,
	batchSize int,
	logger *slog.Logger,
) *RetentionService {
	return &RetentionService{
		msgRepo:         msgRepo,
		logRepo:         logRepo,
		signalRepo:      signalRepo,
		housekeeping:    housekeeping,
		payload:         payload,
		observer:        observer,
		retentionPeriod: retentionPeriod,
		batchSize:       batchSize,
		logger:          logger.With("component", "retention_service"),
	}
}

// DeleteMessage marks a single message as deleted and purges its payload
// bytes. An already-acknowledged message keeps its acknowledged status in
// history even though payload and metadata are gone; the paired signal
// message is always marked deleted.
func (s *RetentionService) DeleteMessage(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) error {
	s.logger.DebugContext(ctx, "Deleting message", "tenant", tenant, "message_id", messageID)

	log, err := s.logRepo.FindByMessageID(ctx, tenant, messageID, role)
	if err != nil {
		return err
	}
	msg, err := s.msgRepo.FindByMessageID(ctx, tenant, messageID, role)
	if err != nil {
		return err
	}

	signal, err := s.signalRepo.FindByUserMessageID(ctx, tenant, messageID)
	if err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
		return fmt.Errorf("could not load signal message for %s: %w", messageID, err)
	}

	s.observer.NotifyMessageDeleted(ctx, tenant, msg, log)

	// The stored bytes go before the references; clearing first would
	// orphan the payload files.
	fileNames, err := s.msgRepo.FindPayloadFileNames(ctx, tenant, []string{messageID})
	if err != nil {
		return fmt.Errorf("could not list payload files for message %s: %w", messageID, err)
	}
	if err := s.payload.DeletePayloads(ctx, tenant, fileNames); err != nil {
		return fmt.Errorf("could not delete payload files for message %s: %w", messageID, err)
	}

	if err := s.msgRepo.ClearPayloadData(ctx, tenant, msg.EntityID); err != nil {
		return fmt.Errorf("could not clear payload data for message %s: %w", messageID, err)
	}

	now := time.Now().UTC()
	log.Deleted = &now
	if !log.Status.IsAcknowledged() {
		log.SetStatus(domain.StatusDeleted)
	}
	if err := s.logRepo.Update(ctx, tenant, log); err != nil {
		return fmt.Errorf("could not update message log %s: %w", messageID, err)
	}

	if signal != nil {
		if err := s.signalRepo.SetDeleted(ctx, tenant, signal.MessageID, now); err != nil {
			return fmt.Errorf("could not mark signal message %s as deleted: %w", signal.MessageID, err)
		}
	}
	return nil
}

// DeleteFailedMessage deletes a message only if it is in SEND_FAILURE.
func (s *RetentionService) DeleteFailedMessage(ctx context.Context, tenant domain.Tenant, messageID string) error {
	log, err := s.logRepo.FindByMessageID(ctx, tenant, messageID, domain.RoleSending)
	if err != nil {
		return err
	}
	if log.Status != domain.StatusSendFailure {
		return fmt.Errorf("message %s status is %s, not %s: %w",
			messageID, log.Status, domain.StatusSendFailure, domain.ErrInvalidStatus)
	}
	return s.DeleteMessage(ctx, tenant, messageID, domain.RoleSending)
}

// DeleteMessages physically removes everything the given user messages own,
// in dependency order. Any step failing aborts the batch: partial deletion
// would leave orphaned references, so there is no best-effort mode here.
func (s *RetentionService) DeleteMessages(ctx context.Context, tenant domain.Tenant, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	s.logger.DebugContext(ctx, "Deleting user messages", "tenant", tenant, "count", len(messageIDs))

	fileNames, err := s.msgRepo.FindPayloadFileNames(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not list payload files: %w", err)
	}
	if err := s.payload.DeletePayloads(ctx, tenant, fileNames); err != nil {
		return fmt.Errorf("could not delete payload files: %w", err)
	}
	s.count(ctx, "payload_files", int64(len(fileNames)))

	signalIDs, err := s.signalRepo.FindSignalMessageIDs(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not list signal messages: %w", err)
	}
	receiptIDs, err := s.signalRepo.FindReceiptIDs(ctx, tenant, signalIDs)
	if err != nil {
		return fmt.Errorf("could not list receipts: %w", err)
	}

	deleted, err := s.msgRepo.DeleteMessages(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not delete messages: %w", err)
	}
	s.count(ctx, "messages", deleted)

	// Receipts reference signal message rows, so they go first.
	deleted, err = s.signalRepo.DeleteReceipts(ctx, tenant, receiptIDs)
	if err != nil {
		return fmt.Errorf("could not delete receipts: %w", err)
	}
	s.count(ctx, "receipts", deleted)

	deleted, err = s.signalRepo.DeleteMessages(ctx, tenant, signalIDs)
	if err != nil {
		return fmt.Errorf("could not delete signal messages: %w", err)
	}
	s.count(ctx, "signal_messages", deleted)

	deleted, err = s.logRepo.DeleteMessageLogs(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not delete message logs: %w", err)
	}
	s.count(ctx, "message_logs", deleted)

	deleted, err = s.signalRepo.DeleteMessageLogs(ctx, tenant, signalIDs)
	if err != nil {
		return fmt.Errorf("could not delete signal message logs: %w", err)
	}
	s.count(ctx, "signal_message_logs", deleted)

	deleted, err = s.housekeeping.DeleteSendAttempts(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not delete send attempts: %w", err)
	}
	s.count(ctx, "send_attempts", deleted)

	deleted, err = s.housekeeping.DeleteErrorLogs(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not delete error logs: %w", err)
	}
	s.count(ctx, "error_logs", deleted)

	deleted, err = s.housekeeping.DeleteUIMessages(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not delete UI projection rows for user messages: %w", err)
	}
	s.count(ctx, "ui_messages", deleted)

	deleted, err = s.housekeeping.DeleteUIMessages(ctx, tenant, signalIDs)
	if err != nil {
		return fmt.Errorf("could not delete UI projection rows for signal messages: %w", err)
	}
	s.count(ctx, "ui_signal_messages", deleted)

	deleted, err = s.housekeeping.DeleteAcknowledgements(ctx, tenant, messageIDs)
	if err != nil {
		return fmt.Errorf("could not delete acknowledgements: %w", err)
	}
	s.count(ctx, "acknowledgements", deleted)

	return nil
}

// UpdateArchived stamps the archived timestamp on the given log rows.
func (s *RetentionService) UpdateArchived(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	return s.logRepo.UpdateArchived(ctx, tenant, entityIDs)
}

// UpdateExported stamps the exported timestamp on the given log rows.
func (s *RetentionService) UpdateExported(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	return s.logRepo.UpdateExported(ctx, tenant, entityIDs)
}

// UpdateDeleted stamps the deleted timestamp on the given log rows.
func (s *RetentionService) UpdateDeleted(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	return s.logRepo.UpdateDeletedBatched(ctx, tenant, entityIDs)
}

// DeleteExpired is the housekeeping entry point: it scans for final-state
// messages whose retention window elapsed and purges them in one
// dependency-ordered batch. Returns the number of purged messages.
func (s *RetentionService) DeleteExpired(ctx context.Context, tenant domain.Tenant) (int, error) {
	cutoff := time.Now().UTC().Add(-s.retentionPeriod)
	expired, err := s.logRepo.FindRetentionExpired(ctx, tenant, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("could not list retention-expired messages: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.DeleteMessages(ctx, tenant, expired); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "Retention cycle purged messages", "tenant", tenant, "count", len(expired))
	return len(expired), nil
}

func (s *RetentionService) count(ctx context.Context, record string, n int64) {
	retentionDeletedCounter.WithLabelValues(record).Add(float64(n))
	s.logger.DebugContext(ctx, "Deleted records", "record", record, "count", n)
}
