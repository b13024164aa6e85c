package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

type retentionFixture struct {
	msgRepo      *MockMessageRepository
	logRepo      *MockMessageLogRepository
	signalRepo   *MockSignalMessageRepository
	housekeeping *MockHousekeepingRepository
	payload      *MockPayloadProvider
	observer     *MockNotificationObserver
	service      *RetentionService
}

func newRetentionFixture(t *testing.T) *retentionFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &retentionFixture{
		msgRepo:      new(MockMessageRepository),
		logRepo:      new(MockMessageLogRepository),
		signalRepo:   new(MockSignalMessageRepository),
		housekeeping: new(MockHousekeepingRepository),
		payload:      new(MockPayloadProvider),
		observer:     new(MockNotificationObserver),
	}
	f.service = NewRetentionService(
		f.msgRepo, f.logRepo, f.signalRepo, f.housekeeping, f.payload, f.observer,
		30*24*time.Hour, 100, logger,
	)
	return f
}

func TestDeleteMessage_SetsDeletedStatus(t *testing.T) {
	f := newRetentionFixture(t)
	ctx := context.Background()

	log := &domain.MessageLog{EntityID: 7, MessageID: "msg-1", Role: domain.RoleSending, Status: domain.StatusReceived}
	msg := &domain.Message{EntityID: 5, MessageID: "msg-1", Role: domain.RoleSending}

	f.logRepo.On("FindByMessageID", mock.Anything, testTenant, "msg-1", domain.RoleSending).Return(log, nil)
	f.msgRepo.On("FindByMessageID", mock.Anything, testTenant, "msg-1", domain.RoleSending).Return(msg, nil)
	f.signalRepo.On("FindByUserMessageID", mock.Anything, testTenant, "msg-1").Return(nil, domain.ErrMessageNotFound)
	f.observer.On("NotifyMessageDeleted", mock.Anything, testTenant, msg, log).Return()
	f.msgRepo.On("FindPayloadFileNames", mock.Anything, testTenant, []string{"msg-1"}).Return([]string{"/p/1"}, nil)
	f.payload.On("DeletePayloads", mock.Anything, testTenant, []string{"/p/1"}).Return(nil)
	f.msgRepo.On("ClearPayloadData", mock.Anything, testTenant, int64(5)).Return(nil)
	f.logRepo.On("Update", mock.Anything, testTenant, log).Return(nil)

	require.NoError(t, f.service.DeleteMessage(ctx, testTenant, "msg-1", domain.RoleSending))

	assert.Equal(t, domain.StatusDeleted, log.Status)
	assert.NotNil(t, log.Deleted)
	assert.Nil(t, log.NextAttempt)
	f.observer.AssertExpectations(t)
	f.payload.AssertExpectations(t)
}

func TestDeleteMessage_RemovesPayloadBytesBeforeClearingReferences(t *testing.T) {
	f := newRetentionFixture(t)

	log := &domain.MessageLog{EntityID: 7, MessageID: "msg-1", Role: domain.RoleSending, Status: domain.StatusReceived}
	msg := &domain.Message{EntityID: 5, MessageID: "msg-1", Role: domain.RoleSending}

	var order []string
	step := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) { order = append(order, name) }
	}

	f.logRepo.On("FindByMessageID", mock.Anything, testTenant, "msg-1", domain.RoleSending).Return(log, nil)
	f.msgRepo.On("FindByMessageID", mock.Anything, testTenant, "msg-1", domain.RoleSending).Return(msg, nil)
	f.signalRepo.On("FindByUserMessageID", mock.Anything, testTenant, "msg-1").Return(nil, domain.ErrMessageNotFound)
	f.observer.On("NotifyMessageDeleted", mock.Anything, testTenant, msg, log).Return()
	f.msgRepo.On("FindPayloadFileNames", mock.Anything, testTenant, []string{"msg-1"}).Return([]string{"/p/1", "/p/2"}, nil)
	f.payload.On("DeletePayloads", mock.Anything, testTenant, []string{"/p/1", "/p/2"}).Run(step("payload_bytes")).Return(nil)
	f.msgRepo.On("ClearPayloadData", mock.Anything, testTenant, int64(5)).Run(step("references")).Return(nil)
	f.logRepo.On("Update", mock.Anything, testTenant, log).Return(nil)

	require.NoError(t, f.service.DeleteMessage(context.Background(), testTenant, "msg-1", domain.RoleSending))

	// Clearing the references first would leave the bytes unreachable.
	assert.Equal(t, []string{"payload_bytes", "references"}, order)
}

func TestDeleteMessage_AcknowledgedMessageKeepsItsStatus(t *testing.T) {
	f := newRetentionFixture(t)

	log := &domain.MessageLog{EntityID: 7, MessageID: "msg-1", Role: domain.RoleSending, Status: domain.StatusAcknowledged}
	msg := &domain.Message{EntityID: 5, MessageID: "msg-1", Role: domain.RoleSending}
	signal := &domain.SignalMessage{MessageID: "sig-1", RefToMessageID: "msg-1"}

	f.logRepo.On("FindByMessageID", mock.Anything, testTenant, "msg-1", domain.RoleSending).Return(log, nil)
	f.msgRepo.On("FindByMessageID", mock.Anything, testTenant, "msg-1", domain.RoleSending).Return(msg, nil)
	f.signalRepo.On("FindByUserMessageID", mock.Anything, testTenant, "msg-1").Return(signal, nil)
	f.observer.On("NotifyMessageDeleted", mock.Anything, testTenant, msg, log).Return()
	f.msgRepo.On("FindPayloadFileNames", mock.Anything, testTenant, []string{"msg-1"}).Return([]string{}, nil)
	f.payload.On("DeletePayloads", mock.Anything, testTenant, []string{}).Return(nil)
	f.msgRepo.On("ClearPayloadData", mock.Anything, testTenant, int64(5)).Return(nil)
	f.logRepo.On("Update", mock.Anything, testTenant, log).Return(nil)
	f.signalRepo.On("SetDeleted", mock.Anything, testTenant, "sig-1", mock.Anything).Return(nil)

	require.NoError(t, f.service.DeleteMessage(context.Background(), testTenant, "msg-1", domain.RoleSending))

	// The acknowledged status survives in history; only the deleted
	// timestamp records the purge. The signal is still marked deleted.
	assert.Equal(t, domain.StatusAcknowledged, log.Status)
	assert.NotNil(t, log.Deleted)
	f.signalRepo.AssertExpectations(t)
}

func TestDeleteFailedMessage_RequiresSendFailure(t *testing.T) {
	f := newRetentionFixture(t)

	log := &domain.MessageLog{MessageID: "msg-1", Role: domain.RoleSending, Status: domain.StatusSendEnqueued}
	f.logRepo.On("FindByMessageID", mock.Anything, testTenant, "msg-1", domain.RoleSending).Return(log, nil)

	err := f.service.DeleteFailedMessage(context.Background(), testTenant, "msg-1")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestDeleteMessages_RunsInDependencyOrder(t *testing.T) {
	f := newRetentionFixture(t)
	ctx := context.Background()
	ids := []string{"msg-1", "msg-2"}
	signalIDs := []string{"sig-1"}
	receiptIDs := []int64{42}

	var order []string
	step := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) { order = append(order, name) }
	}

	f.msgRepo.On("FindPayloadFileNames", mock.Anything, testTenant, ids).Return([]string{"/p/1"}, nil)
	f.payload.On("DeletePayloads", mock.Anything, testTenant, []string{"/p/1"}).Run(step("payloads")).Return(nil)
	f.signalRepo.On("FindSignalMessageIDs", mock.Anything, testTenant, ids).Return(signalIDs, nil)
	f.signalRepo.On("FindReceiptIDs", mock.Anything, testTenant, signalIDs).Return(receiptIDs, nil)
	f.msgRepo.On("DeleteMessages", mock.Anything, testTenant, ids).Run(step("messages")).Return(int64(2), nil)
	f.signalRepo.On("DeleteReceipts", mock.Anything, testTenant, receiptIDs).Run(step("receipts")).Return(int64(1), nil)
	f.signalRepo.On("DeleteMessages", mock.Anything, testTenant, signalIDs).Run(step("signal_messages")).Return(int64(1), nil)
	f.logRepo.On("DeleteMessageLogs", mock.Anything, testTenant, ids).Run(step("message_logs")).Return(int64(2), nil)
	f.signalRepo.On("DeleteMessageLogs", mock.Anything, testTenant, signalIDs).Run(step("signal_message_logs")).Return(int64(1), nil)
	f.housekeeping.On("DeleteSendAttempts", mock.Anything, testTenant, ids).Run(step("send_attempts")).Return(int64(3), nil)
	f.housekeeping.On("DeleteErrorLogs", mock.Anything, testTenant, ids).Run(step("error_logs")).Return(int64(0), nil)
	f.housekeeping.On("DeleteUIMessages", mock.Anything, testTenant, ids).Run(step("ui_messages")).Return(int64(2), nil)
	f.housekeeping.On("DeleteUIMessages", mock.Anything, testTenant, signalIDs).Run(step("ui_signal_messages")).Return(int64(1), nil)
	f.housekeeping.On("DeleteAcknowledgements", mock.Anything, testTenant, ids).Run(step("acknowledgements")).Return(int64(1), nil)

	require.NoError(t, f.service.DeleteMessages(ctx, testTenant, ids))

	// Receipts hold a foreign key to signal message rows, so they must go
	// before the signal messages they reference.
	assert.Equal(t, []string{
		"payloads", "messages", "receipts", "signal_messages",
		"message_logs", "signal_message_logs", "send_attempts", "error_logs",
		"ui_messages", "ui_signal_messages", "acknowledgements",
	}, order)
}

func TestDeleteMessages_FirstFailureAbortsTheBatch(t *testing.T) {
	f := newRetentionFixture(t)
	ids := []string{"msg-1"}

	f.msgRepo.On("FindPayloadFileNames", mock.Anything, testTenant, ids).Return([]string{}, nil)
	f.payload.On("DeletePayloads", mock.Anything, testTenant, []string{}).Return(nil)
	f.signalRepo.On("FindSignalMessageIDs", mock.Anything, testTenant, ids).Return([]string{}, nil)
	f.signalRepo.On("FindReceiptIDs", mock.Anything, testTenant, []string{}).Return([]int64{}, nil)
	f.msgRepo.On("DeleteMessages", mock.Anything, testTenant, ids).Return(int64(0), errors.New("deadlock detected"))

	err := f.service.DeleteMessages(context.Background(), testTenant, ids)
	require.Error(t, err)

	// Nothing after the failing step runs.
	f.logRepo.AssertNotCalled(t, "DeleteMessageLogs", mock.Anything, mock.Anything, mock.Anything)
	f.housekeeping.AssertNotCalled(t, "DeleteSendAttempts", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessages_EmptyListIsANoOp(t *testing.T) {
	f := newRetentionFixture(t)
	require.NoError(t, f.service.DeleteMessages(context.Background(), testTenant, nil))
	f.msgRepo.AssertNotCalled(t, "FindPayloadFileNames", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteExpired(t *testing.T) {
	f := newRetentionFixture(t)
	ids := []string{"msg-1", "msg-2"}

	f.logRepo.On("FindRetentionExpired", mock.Anything, testTenant, mock.Anything, 100).Return(ids, nil)
	f.msgRepo.On("FindPayloadFileNames", mock.Anything, testTenant, ids).Return([]string{}, nil)
	f.payload.On("DeletePayloads", mock.Anything, testTenant, []string{}).Return(nil)
	f.signalRepo.On("FindSignalMessageIDs", mock.Anything, testTenant, ids).Return([]string{}, nil)
	f.signalRepo.On("FindReceiptIDs", mock.Anything, testTenant, []string{}).Return([]int64{}, nil)
	f.msgRepo.On("DeleteMessages", mock.Anything, testTenant, ids).Return(int64(2), nil)
	f.signalRepo.On("DeleteMessages", mock.Anything, testTenant, []string{}).Return(int64(0), nil)
	f.signalRepo.On("DeleteReceipts", mock.Anything, testTenant, []int64{}).Return(int64(0), nil)
	f.logRepo.On("DeleteMessageLogs", mock.Anything, testTenant, ids).Return(int64(2), nil)
	f.signalRepo.On("DeleteMessageLogs", mock.Anything, testTenant, []string{}).Return(int64(0), nil)
	f.housekeeping.On("DeleteSendAttempts", mock.Anything, testTenant, ids).Return(int64(0), nil)
	f.housekeeping.On("DeleteErrorLogs", mock.Anything, testTenant, ids).Return(int64(0), nil)
	f.housekeeping.On("DeleteUIMessages", mock.Anything, testTenant, ids).Return(int64(0), nil)
	f.housekeeping.On("DeleteUIMessages", mock.Anything, testTenant, []string{}).Return(int64(0), nil)
	f.housekeeping.On("DeleteAcknowledgements", mock.Anything, testTenant, ids).Return(int64(0), nil)

	deleted, err := f.service.DeleteExpired(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestDeleteExpired_NothingExpired(t *testing.T) {
	f := newRetentionFixture(t)
	f.logRepo.On("FindRetentionExpired", mock.Anything, testTenant, mock.Anything, 100).Return([]string{}, nil)

	deleted, err := f.service.DeleteExpired(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	f.msgRepo.AssertNotCalled(t, "DeleteMessages", mock.Anything, mock.Anything, mock.Anything)
}
