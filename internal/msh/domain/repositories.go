package domain

import (
	"context"
	"time"
)

// MessageRepository persists the immutable message envelope and its parts.
type MessageRepository interface {
	Create(ctx context.Context, tenant Tenant, msg *Message) error
	FindByMessageID(ctx context.Context, tenant Tenant, messageID string, role MSHRole) (*Message, error)
	FindByEntityID(ctx context.Context, tenant Tenant, entityID int64) (*Message, error)
	// UpdatePartFileName records the stored payload location on a part row
	// once a deferred payload write completes.
	UpdatePartFileName(ctx context.Context, tenant Tenant, messageEntityID int64, href, fileName string) error
	// ClearPayloadData drops stored payload references for the message's
	// parts so the bytes become unreachable, keeping the part metadata.
	ClearPayloadData(ctx context.Context, tenant Tenant, messageEntityID int64) error
	DeleteMessages(ctx context.Context, tenant Tenant, messageIDs []string) (int64, error)
	FindPayloadFileNames(ctx context.Context, tenant Tenant, messageIDs []string) ([]string, error)
}

// MessageLogRepository persists the mutable per-attempt log rows.
type MessageLogRepository interface {
	Create(ctx context.Context, tenant Tenant, log *MessageLog) error
	FindByMessageID(ctx context.Context, tenant Tenant, messageID string, role MSHRole) (*MessageLog, error)
	FindByEntityID(ctx context.Context, tenant Tenant, entityID int64) (*MessageLog, error)
	Update(ctx context.Context, tenant Tenant, log *MessageLog) error

	// FindFailedMessages lists ids of SEND_FAILURE messages whose failed
	// timestamp falls in [start, end]; finalRecipient and originalUser are
	// optional filters matched against the message properties.
	FindFailedMessages(ctx context.Context, tenant Tenant, start, end time.Time, finalRecipient, originalUser string) ([]string, error)

	// Bulk single-column timestamp updates over arbitrarily large id
	// lists; implementations chunk the list to respect IN-clause limits.
	UpdateArchived(ctx context.Context, tenant Tenant, entityIDs []int64) error
	UpdateExported(ctx context.Context, tenant Tenant, entityIDs []int64) error
	UpdateDeletedBatched(ctx context.Context, tenant Tenant, entityIDs []int64) error

	DeleteMessageLogs(ctx context.Context, tenant Tenant, messageIDs []string) (int64, error)

	// FindRetentionExpired lists ids of final-state messages whose
	// retention window has elapsed, up to limit.
	FindRetentionExpired(ctx context.Context, tenant Tenant, olderThan time.Time, limit int) ([]string, error)
}

// SignalMessageRepository persists receipt/error signals paired with user
// messages.
type SignalMessageRepository interface {
	FindByUserMessageID(ctx context.Context, tenant Tenant, userMessageID string) (*SignalMessage, error)
	FindSignalMessageIDs(ctx context.Context, tenant Tenant, userMessageIDs []string) ([]string, error)
	FindReceiptIDs(ctx context.Context, tenant Tenant, signalMessageIDs []string) ([]int64, error)
	SetDeleted(ctx context.Context, tenant Tenant, signalMessageID string, when time.Time) error
	DeleteMessages(ctx context.Context, tenant Tenant, signalMessageIDs []string) (int64, error)
	DeleteReceipts(ctx context.Context, tenant Tenant, receiptIDs []int64) (int64, error)
	DeleteMessageLogs(ctx context.Context, tenant Tenant, signalMessageIDs []string) (int64, error)
}

// MessageGroupRepository persists split-and-join groups.
type MessageGroupRepository interface {
	Create(ctx context.Context, tenant Tenant, group *MessageGroup) error
	FindByGroupID(ctx context.Context, tenant Tenant, groupID string) (*MessageGroup, error)
	FindBySourceMessageID(ctx context.Context, tenant Tenant, sourceMessageID string) (*MessageGroup, error)
	SetFailed(ctx context.Context, tenant Tenant, groupID, detail string) error
}

// HousekeepingRepository removes the records that hang off a message and
// must go before the message rows themselves.
type HousekeepingRepository interface {
	DeleteSendAttempts(ctx context.Context, tenant Tenant, messageIDs []string) (int64, error)
	DeleteErrorLogs(ctx context.Context, tenant Tenant, messageIDs []string) (int64, error)
	DeleteUIMessages(ctx context.Context, tenant Tenant, messageIDs []string) (int64, error)
	DeleteAcknowledgements(ctx context.Context, tenant Tenant, messageIDs []string) (int64, error)
}

// DictionaryRepository resolves enumeration values to their shared
// dictionary row ids. Creation is find-or-create and must tolerate
// concurrent first use without producing duplicate rows.
type DictionaryRepository interface {
	StatusID(ctx context.Context, status MessageStatus) (int32, error)
	RoleID(ctx context.Context, role MSHRole) (int32, error)
	NotificationStatusID(ctx context.Context, status NotificationStatus) (int32, error)
}
