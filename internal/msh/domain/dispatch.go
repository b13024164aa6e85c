package domain

// QueueRef names a durable queue destination (a broker subject).
type QueueRef string

// Dispatch unit types. Regular sends carry only the message id; control
// units carry the command in Type plus its parameters.
const (
	DispatchTypeSend                   = "SEND"
	DispatchTypeSourceMessageSend      = "SOURCE_MESSAGE_SEND"
	DispatchTypeSplitAndJoinSendFailed = "SPLIT_AND_JOIN_SEND_FAILED"
	DispatchTypeFragmentSendFailed     = "FRAGMENT_SEND_FAILED"
)

// DispatchUnit is the payload handed to the durable queue. After a
// successful enqueue the broker owns delivery: at-least-once, no ordering
// guarantee across different messages.
type DispatchUnit struct {
	Type      string `json:"type"`
	Tenant    string `json:"tenant"`
	MessageID string `json:"message_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`

	// Priority is set for the normal send queue only; split-and-join
	// traffic has its own queue and needs no priority.
	Priority int `json:"priority,omitempty"`

	// DelayMillis postpones processing for delayed resends.
	DelayMillis int64 `json:"delay_millis,omitempty"`
	RetryCount  int   `json:"retry_count,omitempty"`

	ErrorDetail string `json:"error_detail,omitempty"`
}
