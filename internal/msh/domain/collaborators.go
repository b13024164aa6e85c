package domain

import (
	"context"
	"time"
)

// RestoreStatusResolver decides, from the current processing-mode
// configuration, which status a restored message re-enters: SEND_ENQUEUED
// for push legs or READY_TO_PULL for pull legs.
type RestoreStatusResolver interface {
	ResolveRestoreStatus(ctx context.Context, tenant Tenant, messageID string, role MSHRole) (MessageStatus, error)
}

// PullLockService grants pull eligibility for a message. Implementations
// must be safe to call concurrently for the same message without
// double-granting.
type PullLockService interface {
	AddPullMessageLock(ctx context.Context, tenant Tenant, msg *Message, log *MessageLog) error
	DeletePullMessageLock(ctx context.Context, tenant Tenant, messageID string) error
}

// LegConfiguration is the slice of processing-mode configuration the
// lifecycle engine needs. The full PMode resolver lives outside this core.
type LegConfiguration struct {
	Name           string
	MaxAttempts    int
	RetryTimeout   time.Duration
	PayloadMaxSize int64
	// MEPBinding is "push" or "pull".
	MEPBinding string
}

// LegConfigurationProvider resolves the leg configuration governing a
// message exchange.
type LegConfigurationProvider interface {
	GetLegConfiguration(ctx context.Context, tenant Tenant, messageID string, role MSHRole) (*LegConfiguration, error)
}

// PayloadPersistenceProvider writes and clears payload bytes. Validation
// failures surface before any asynchronous work is queued.
type PayloadPersistenceProvider interface {
	StoreIncomingPayload(ctx context.Context, tenant Tenant, part *PartInfo, msg *Message, leg *LegConfiguration) error
	StoreOutgoingPayload(ctx context.Context, tenant Tenant, part *PartInfo, msg *Message, leg *LegConfiguration, backendName string) error
	// ValidatePayloadSize fails with ErrPayloadSizeExceeded when length is
	// over the leg maximum. async marks validation ahead of deferred saves.
	ValidatePayloadSize(leg *LegConfiguration, length int64, async bool) error
	DeletePayloads(ctx context.Context, tenant Tenant, fileNames []string) error
}

// TaskExecutor runs tenant-scoped background work. Failures of long-running
// tasks are observed only through the onFailure callback, never as an error
// on the submitting goroutine.
type TaskExecutor interface {
	Submit(tenant Tenant, task func(ctx context.Context))
	SubmitLongRunningTask(tenant Tenant, task func(ctx context.Context) error, onFailure func(ctx context.Context, err error))
}

// DurableQueue hands a dispatch unit to the broker. Delivery after a
// successful enqueue is at-least-once and outside the engine's control.
type DurableQueue interface {
	SendMessageToQueue(ctx context.Context, unit *DispatchUnit, queue QueueRef) error
}

// PriorityResolver maps a service/action pair to a dispatch priority.
type PriorityResolver interface {
	Priority(ctx context.Context, tenant Tenant, service, action string) (int, error)
}

// NotificationObserver is notified of lifecycle events so backend plugins
// can react to them.
type NotificationObserver interface {
	NotifyOfStatusChange(ctx context.Context, tenant Tenant, msg *Message, log *MessageLog, newStatus MessageStatus, when time.Time)
	NotifyMessageDeleted(ctx context.Context, tenant Tenant, msg *Message, log *MessageLog)
}

// AuditSink records operator-visible lifecycle events.
type AuditSink interface {
	RecordResent(ctx context.Context, tenant Tenant, messageID string) error
	RecordDownloaded(ctx context.Context, tenant Tenant, messageID string) error
}
