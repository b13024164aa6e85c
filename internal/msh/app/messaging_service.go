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

const (
	mimeTypeApplicationUnknown = "application/unknown"
	bytesInMB                  = int64(1048576)
)

var storeMessageHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "msh",
		Name:      "store_message_duration_seconds",
		Help:      "Duration of message store operations.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"path"},
)

// MessagingService persists a submitted message and decides, for
// split-and-join source messages, whether payload writing happens inline or
// is deferred to a tenant-scoped background task.
type MessagingService struct {
	msgRepo   domain.MessageRepository
	logRepo   domain.MessageLogRepository
	groupRepo domain.MessageGroupRepository
	payload   domain.PayloadPersistenceProvider
	executor  domain.TaskExecutor
	scheduler *DispatchScheduler

	// thresholdBytes is the limit above which source-message payload
	// saving is deferred; the comparison is strictly greater-than.
	thresholdBytes int64

	logger *slog.Logger
}

// NewMessagingService creates a new MessagingService. thresholdMB is the
// configured schedule threshold in megabytes.
func NewMessagingService(
	msgRepo domain.MessageRepository,
	logRepo domain.MessageLogRepository,
	groupRepo domain.MessageGroupRepository,
	payload domain.PayloadPersistenceProvider,
	executor domain.TaskExecutor,
	scheduler *DispatchScheduler,
	thresholdMB int64,
	logger *slog.Logger,
) *MessagingService {
	return &MessagingService{
		msgRepo:        msgRepo,
		logRepo:        logRepo,
		groupRepo:      groupRepo,
		payload:        payload,
		executor:       executor,
		scheduler:      scheduler,
		thresholdBytes: thresholdMB * bytesInMB,
		logger:         logger.With("component", "messaging_service"),
	}
}

// StoreMessage persists the message envelope and its payloads. For sending
// source messages over the schedule threshold, payload size is validated
// synchronously (fail fast) and the actual write is handed to the
// background task runner; on background failure the message group is marked
// failed through the dedicated callback.
func (s *MessagingService) StoreMessage(ctx context.Context, tenant domain.Tenant, msg *domain.Message, leg *domain.LegConfiguration, backendName string) error {
	if msg == nil {
		return nil
	}

	timer := prometheus.NewTimer(storeMessageHist.WithLabelValues("sync"))
	defer timer.ObserveDuration()

	if msg.IsTestMessage() {
		msg.Subtype = domain.SubtypeTest
	}

	if msg.Role == domain.RoleSending && msg.SourceMessage && s.shouldSchedulePayloadSaving(ctx, msg) {
		// Fail fast on oversized parts before any async work is queued.
		for i := range msg.Parts {
			if err := s.payload.ValidatePayloadSize(leg, msg.Parts[i].Length, true); err != nil {
				return err
			}
		}
		s.setPayloadsContentType(msg)

		// The envelope and part rows are persisted before the hand-off:
		// once the task is submitted it is the only goroutine touching
		// msg, and it links the stored payload locations back onto the
		// part rows when the write completes.
		s.logger.DebugContext(ctx, "Saving message", "message_id", msg.MessageID)
		if err := s.msgRepo.Create(ctx, tenant, msg); err != nil {
			return fmt.Errorf("could not persist message %s: %w", msg.MessageID, err)
		}

		s.executor.SubmitLongRunningTask(tenant,
			func(taskCtx context.Context) error {
				s.logger.DebugContext(taskCtx, "Saving the source message payloads", "message_id", msg.MessageID)
				return s.persistDeferredPayloads(taskCtx, tenant, msg, leg, backendName)
			},
			func(taskCtx context.Context, err error) {
				s.setSourceMessageAsFailed(taskCtx, tenant, msg, err)
			})
		return nil
	}

	if msg.Role == domain.RoleSending && msg.SourceMessage {
		if err := s.storeSourceMessagePayloads(ctx, tenant, msg, leg, backendName); err != nil {
			return err
		}
	} else {
		if err := s.storePayloads(ctx, tenant, msg, leg, backendName); err != nil {
			return err
		}
	}

	s.setPayloadsContentType(msg)

	s.logger.DebugContext(ctx, "Saving message", "message_id", msg.MessageID)
	if err := s.msgRepo.Create(ctx, tenant, msg); err != nil {
		return fmt.Errorf("could not persist message %s: %w", msg.MessageID, err)
	}
	return nil
}

// persistDeferredPayloads runs on the background executor: it writes the
// payload bytes, records each stored location on the already-persisted part
// rows so retention can find the bytes later, and only then schedules the
// source message sending.
func (s *MessagingService) persistDeferredPayloads(ctx context.Context, tenant domain.Tenant, msg *domain.Message, leg *domain.LegConfiguration, backendName string) error {
	if err := s.storePayloads(ctx, tenant, msg, leg, backendName); err != nil {
		return err
	}

	for i := range msg.Parts {
		part := &msg.Parts[i]
		if err := s.msgRepo.UpdatePartFileName(ctx, tenant, msg.EntityID, part.Href, part.FileName); err != nil {
			return fmt.Errorf("could not link stored payload %s for message %s: %w", part.Href, msg.MessageID, err)
		}
	}

	s.logger.DebugContext(ctx, "Scheduling the source message sending", "message_id", msg.MessageID)
	return s.scheduler.ScheduleSourceMessageSending(ctx, tenant, msg.MessageID)
}

// shouldSchedulePayloadSaving sums the declared part lengths and compares
// them to the configured threshold, strictly greater-than.
func (s *MessagingService) shouldSchedulePayloadSaving(ctx context.Context, msg *domain.Message) bool {
	if len(msg.Parts) == 0 {
		s.logger.DebugContext(ctx, "Source message does not have any payloads", "message_id", msg.MessageID)
		return false
	}

	total := msg.TotalPayloadLength()
	s.logger.DebugContext(ctx, "Source message total payload length",
		"message_id", msg.MessageID, "total_bytes", total, "threshold_bytes", s.thresholdBytes)

	return total > s.thresholdBytes
}

// storeSourceMessagePayloads writes the payloads and then schedules the
// source message on the large-message queue.
func (s *MessagingService) storeSourceMessagePayloads(ctx context.Context, tenant domain.Tenant, msg *domain.Message, leg *domain.LegConfiguration, backendName string) error {
	if err := s.storePayloads(ctx, tenant, msg, leg, backendName); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "Scheduling the source message sending", "message_id", msg.MessageID)
	return s.scheduler.ScheduleSourceMessageSending(ctx, tenant, msg.MessageID)
}

func (s *MessagingService) storePayloads(ctx context.Context, tenant domain.Tenant, msg *domain.Message, leg *domain.LegConfiguration, backendName string) error {
	if len(msg.Parts) == 0 {
		s.logger.DebugContext(ctx, "No payloads to store", "message_id", msg.MessageID)
		return nil
	}

	for i := range msg.Parts {
		part := &msg.Parts[i]
		var err error
		if msg.Role == domain.RoleReceiving {
			err = s.payload.StoreIncomingPayload(ctx, tenant, part, msg, leg)
		} else {
			err = s.payload.StoreOutgoingPayload(ctx, tenant, part, msg, leg, backendName)
		}
		if err != nil {
			return fmt.Errorf("could not store payload %s for message %s: %w", part.Href, msg.MessageID, err)
		}
	}
	s.logger.DebugContext(ctx, "Finished storing payloads", "message_id", msg.MessageID, "count", len(msg.Parts))
	return nil
}

// setSourceMessageAsFailed marks the message group as failed after a
// deferred payload save went wrong, so the message never sits in an
// ambiguous half-stored state.
func (s *MessagingService) setSourceMessageAsFailed(ctx context.Context, tenant domain.Tenant, msg *domain.Message, cause error) {
	s.logger.ErrorContext(ctx, "Background payload save failed, marking group as failed",
		"message_id", msg.MessageID, "error", cause)

	group, err := s.groupRepo.FindBySourceMessageID(ctx, tenant, msg.MessageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Could not load message group for failed source message",
			"message_id", msg.MessageID, "error", err)
		return
	}

	detail := cause.Error()
	if err := s.groupRepo.SetFailed(ctx, tenant, group.GroupID, detail); err != nil {
		s.logger.ErrorContext(ctx, "Could not mark message group as failed",
			"group_id", group.GroupID, "error", err)
		return
	}

	if err := s.scheduler.ScheduleSplitAndJoinSendFailed(ctx, tenant, group.GroupID, detail); err != nil {
		s.logger.ErrorContext(ctx, "Could not schedule split-and-join failure command",
			"group_id", group.GroupID, "error", err)
	}
}

func (s *MessagingService) setPayloadsContentType(msg *domain.Message) {
	for i := range msg.Parts {
		if msg.Parts[i].ContentType == "" {
			msg.Parts[i].ContentType = mimeTypeApplicationUnknown
		}
	}
}

// CreateMessageFragments registers the split-and-join group and submits one
// fragment message per fragment file.
func (s *MessagingService) CreateMessageFragments(ctx context.Context, tenant domain.Tenant, source *domain.Message, group *domain.MessageGroup, fragmentFiles []string) error {
	if err := s.groupRepo.Create(ctx, tenant, group); err != nil {
		return fmt.Errorf("could not create message group %s: %w", group.GroupID, err)
	}

	backendLog, err := s.logRepo.FindByMessageID(ctx, tenant, source.MessageID, domain.RoleSending)
	if err != nil {
		return fmt.Errorf("could not load source message log %s: %w", source.MessageID, err)
	}

	for index, fragmentFile := range fragmentFiles {
		if err := s.createFragment(ctx, tenant, source, group, backendLog.BackendName, fragmentFile, index+1); err != nil {
			return fmt.Errorf("could not create messaging for fragment %d: %w", index+1, err)
		}
	}
	return nil
}

func (s *MessagingService) createFragment(ctx context.Context, tenant domain.Tenant, source *domain.Message, group *domain.MessageGroup, backendName, fragmentFile string, number int) error {
	now := time.Now().UTC()
	fragment := &domain.Message{
		MessageID:       fmt.Sprintf("%s-fragment-%d", source.MessageID, number),
		RefToMessageID:  source.RefToMessageID,
		Tenant:          tenant,
		Role:            domain.RoleSending,
		ConversationID:  source.ConversationID,
		Service:         source.Service,
		Action:          source.Action,
		AgreementRef:    source.AgreementRef,
		From:            source.From,
		To:              source.To,
		MPC:             source.MPC,
		MessageFragment: true,
		GroupID:         group.GroupID,
		Parts: []domain.PartInfo{{
			Href:        fmt.Sprintf("cid:fragment-%d", number),
			ContentType: "application/octet-stream",
			FileName:    fragmentFile,
		}},
		Created: now,
	}

	if err := s.msgRepo.Create(ctx, tenant, fragment); err != nil {
		return err
	}

	fragmentLog := &domain.MessageLog{
		MessageID:          fragment.MessageID,
		Tenant:             tenant,
		Role:               domain.RoleSending,
		Status:             domain.StatusSendEnqueued,
		NotificationStatus: domain.NotificationStatusNotRequired,
		BackendName:        backendName,
		MPC:                source.MPC,
		Received:           now,
		SendAttempts:       0,
		SendAttemptsMax:    1,
	}
	return s.logRepo.Create(ctx, tenant, fragmentLog)
}
