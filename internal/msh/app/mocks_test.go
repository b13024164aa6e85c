package app

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// --- Mocks ---

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, tenant domain.Tenant, msg *domain.Message) error {
	args := m.Called(ctx, tenant, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) FindByMessageID(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (*domain.Message, error) {
	args := m.Called(ctx, tenant, messageID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) FindByEntityID(ctx context.Context, tenant domain.Tenant, entityID int64) (*domain.Message, error) {
	args := m.Called(ctx, tenant, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdatePartFileName(ctx context.Context, tenant domain.Tenant, messageEntityID int64, href, fileName string) error {
	args := m.Called(ctx, tenant, messageEntityID, href, fileName)
	return args.Error(0)
}

func (m *MockMessageRepository) ClearPayloadData(ctx context.Context, tenant domain.Tenant, messageEntityID int64) error {
	args := m.Called(ctx, tenant, messageEntityID)
	return args.Error(0)
}

func (m *MockMessageRepository) DeleteMessages(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) FindPayloadFileNames(ctx context.Context, tenant domain.Tenant, messageIDs []string) ([]string, error) {
	args := m.Called(ctx, tenant, messageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockMessageLogRepository struct {
	mock.Mock
}

func (m *MockMessageLogRepository) Create(ctx context.Context, tenant domain.Tenant, log *domain.MessageLog) error {
	args := m.Called(ctx, tenant, log)
	return args.Error(0)
}

func (m *MockMessageLogRepository) FindByMessageID(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (*domain.MessageLog, error) {
	args := m.Called(ctx, tenant, messageID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageLog), args.Error(1)
}

func (m *MockMessageLogRepository) FindByEntityID(ctx context.Context, tenant domain.Tenant, entityID int64) (*domain.MessageLog, error) {
	args := m.Called(ctx, tenant, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageLog), args.Error(1)
}

func (m *MockMessageLogRepository) Update(ctx context.Context, tenant domain.Tenant, log *domain.MessageLog) error {
	args := m.Called(ctx, tenant, log)
	return args.Error(0)
}

func (m *MockMessageLogRepository) FindFailedMessages(ctx context.Context, tenant domain.Tenant, start, end time.Time, finalRecipient, originalUser string) ([]string, error) {
	args := m.Called(ctx, tenant, start, end, finalRecipient, originalUser)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMessageLogRepository) UpdateArchived(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	args := m.Called(ctx, tenant, entityIDs)
	return args.Error(0)
}

func (m *MockMessageLogRepository) UpdateExported(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	args := m.Called(ctx, tenant, entityIDs)
	return args.Error(0)
}

func (m *MockMessageLogRepository) UpdateDeletedBatched(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	args := m.Called(ctx, tenant, entityIDs)
	return args.Error(0)
}

func (m *MockMessageLogRepository) DeleteMessageLogs(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageLogRepository) FindRetentionExpired(ctx context.Context, tenant domain.Tenant, olderThan time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, tenant, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockSignalMessageRepository struct {
	mock.Mock
}

func (m *MockSignalMessageRepository) FindByUserMessageID(ctx context.Context, tenant domain.Tenant, userMessageID string) (*domain.SignalMessage, error) {
	args := m.Called(ctx, tenant, userMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SignalMessage), args.Error(1)
}

func (m *MockSignalMessageRepository) FindSignalMessageIDs(ctx context.Context, tenant domain.Tenant, userMessageIDs []string) ([]string, error) {
	args := m.Called(ctx, tenant, userMessageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSignalMessageRepository) FindReceiptIDs(ctx context.Context, tenant domain.Tenant, signalMessageIDs []string) ([]int64, error) {
	args := m.Called(ctx, tenant, signalMessageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockSignalMessageRepository) SetDeleted(ctx context.Context, tenant domain.Tenant, signalMessageID string, when time.Time) error {
	args := m.Called(ctx, tenant, signalMessageID, when)
	return args.Error(0)
}

func (m *MockSignalMessageRepository) DeleteMessages(ctx context.Context, tenant domain.Tenant, signalMessageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, signalMessageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSignalMessageRepository) DeleteReceipts(ctx context.Context, tenant domain.Tenant, receiptIDs []int64) (int64, error) {
	args := m.Called(ctx, tenant, receiptIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSignalMessageRepository) DeleteMessageLogs(ctx context.Context, tenant domain.Tenant, signalMessageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, signalMessageIDs)
	return args.Get(0).(int64), args.Error(1)
}

type MockMessageGroupRepository struct {
	mock.Mock
}

func (m *MockMessageGroupRepository) Create(ctx context.Context, tenant domain.Tenant, group *domain.MessageGroup) error {
	args := m.Called(ctx, tenant, group)
	return args.Error(0)
}

func (m *MockMessageGroupRepository) FindByGroupID(ctx context.Context, tenant domain.Tenant, groupID string) (*domain.MessageGroup, error) {
	args := m.Called(ctx, tenant, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageGroup), args.Error(1)
}

func (m *MockMessageGroupRepository) FindBySourceMessageID(ctx context.Context, tenant domain.Tenant, sourceMessageID string) (*domain.MessageGroup, error) {
	args := m.Called(ctx, tenant, sourceMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageGroup), args.Error(1)
}

func (m *MockMessageGroupRepository) SetFailed(ctx context.Context, tenant domain.Tenant, groupID, detail string) error {
	args := m.Called(ctx, tenant, groupID, detail)
	return args.Error(0)
}

type MockHousekeepingRepository struct {
	mock.Mock
}

func (m *MockHousekeepingRepository) DeleteSendAttempts(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockHousekeepingRepository) DeleteErrorLogs(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockHousekeepingRepository) DeleteUIMessages(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockHousekeepingRepository) DeleteAcknowledgements(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	args := m.Called(ctx, tenant, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

type MockPayloadProvider struct {
	mock.Mock
}

func (m *MockPayloadProvider) StoreIncomingPayload(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message, leg *domain.LegConfiguration) error {
	args := m.Called(ctx, tenant, part, msg, leg)
	return args.Error(0)
}

func (m *MockPayloadProvider) StoreOutgoingPayload(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message, leg *domain.LegConfiguration, backendName string) error {
	args := m.Called(ctx, tenant, part, msg, leg, backendName)
	return args.Error(0)
}

func (m *MockPayloadProvider) ValidatePayloadSize(leg *domain.LegConfiguration, length int64, async bool) error {
	args := m.Called(leg, length, async)
	return args.Error(0)
}

func (m *MockPayloadProvider) DeletePayloads(ctx context.Context, tenant domain.Tenant, fileNames []string) error {
	args := m.Called(ctx, tenant, fileNames)
	return args.Error(0)
}

// syncTaskExecutor runs submitted tasks inline so tests observe their
// effects deterministically.
type syncTaskExecutor struct{}

func (syncTaskExecutor) Submit(tenant domain.Tenant, task func(ctx context.Context)) {
	task(context.Background())
}

func (syncTaskExecutor) SubmitLongRunningTask(tenant domain.Tenant, task func(ctx context.Context) error, onFailure func(ctx context.Context, err error)) {
	if err := task(context.Background()); err != nil {
		onFailure(context.Background(), err)
	}
}

// gatedTaskExecutor captures submitted tasks so a test controls when the
// background work runs relative to the caller.
type gatedTaskExecutor struct {
	tasks []func()
}

func (e *gatedTaskExecutor) Submit(tenant domain.Tenant, task func(ctx context.Context)) {
	e.tasks = append(e.tasks, func() { task(context.Background()) })
}

func (e *gatedTaskExecutor) SubmitLongRunningTask(tenant domain.Tenant, task func(ctx context.Context) error, onFailure func(ctx context.Context, err error)) {
	e.tasks = append(e.tasks, func() {
		if err := task(context.Background()); err != nil {
			onFailure(context.Background(), err)
		}
	})
}

func (e *gatedTaskExecutor) RunAll() {
	for _, run := range e.tasks {
		run()
	}
	e.tasks = nil
}

type MockDurableQueue struct {
	mock.Mock
}

func (m *MockDurableQueue) SendMessageToQueue(ctx context.Context, unit *domain.DispatchUnit, queue domain.QueueRef) error {
	args := m.Called(ctx, unit, queue)
	return args.Error(0)
}

type MockPriorityResolver struct {
	mock.Mock
}

func (m *MockPriorityResolver) Priority(ctx context.Context, tenant domain.Tenant, service, action string) (int, error) {
	args := m.Called(ctx, tenant, service, action)
	return args.Int(0), args.Error(1)
}

type MockNotificationObserver struct {
	mock.Mock
}

func (m *MockNotificationObserver) NotifyOfStatusChange(ctx context.Context, tenant domain.Tenant, msg *domain.Message, log *domain.MessageLog, newStatus domain.MessageStatus, when time.Time) {
	m.Called(ctx, tenant, msg, log, newStatus, when)
}

func (m *MockNotificationObserver) NotifyMessageDeleted(ctx context.Context, tenant domain.Tenant, msg *domain.Message, log *domain.MessageLog) {
	m.Called(ctx, tenant, msg, log)
}

type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) RecordResent(ctx context.Context, tenant domain.Tenant, messageID string) error {
	args := m.Called(ctx, tenant, messageID)
	return args.Error(0)
}

func (m *MockAuditSink) RecordDownloaded(ctx context.Context, tenant domain.Tenant, messageID string) error {
	args := m.Called(ctx, tenant, messageID)
	return args.Error(0)
}

type MockRestoreStatusResolver struct {
	mock.Mock
}

func (m *MockRestoreStatusResolver) ResolveRestoreStatus(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (domain.MessageStatus, error) {
	args := m.Called(ctx, tenant, messageID, role)
	return args.Get(0).(domain.MessageStatus), args.Error(1)
}

type MockPullLockService struct {
	mock.Mock
}

func (m *MockPullLockService) AddPullMessageLock(ctx context.Context, tenant domain.Tenant, msg *domain.Message, log *domain.MessageLog) error {
	args := m.Called(ctx, tenant, msg, log)
	return args.Error(0)
}

func (m *MockPullLockService) DeletePullMessageLock(ctx context.Context, tenant domain.Tenant, messageID string) error {
	args := m.Called(ctx, tenant, messageID)
	return args.Error(0)
}

type MockLegProvider struct {
	mock.Mock
}

func (m *MockLegProvider) GetLegConfiguration(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (*domain.LegConfiguration, error) {
	args := m.Called(ctx, tenant, messageID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LegConfiguration), args.Error(1)
}
