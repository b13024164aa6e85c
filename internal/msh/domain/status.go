package domain

// MessageStatus represents the delivery state of a user message.
// Statuses are persisted as small-integer dictionary rows; the string values
// here are the stable identifiers shared with plugins and the admin API.
type MessageStatus string

const (
	StatusSendEnqueued            MessageStatus = "SEND_ENQUEUED"
	StatusWaitingForRetry         MessageStatus = "WAITING_FOR_RETRY"
	StatusSendFailure             MessageStatus = "SEND_FAILURE"
	StatusReadyToPull             MessageStatus = "READY_TO_PULL"
	StatusReceived                MessageStatus = "RECEIVED"
	StatusReceivedWithWarnings    MessageStatus = "RECEIVED_WITH_WARNINGS"
	StatusDownloaded              MessageStatus = "DOWNLOADED"
	StatusAcknowledged            MessageStatus = "ACKNOWLEDGED"
	StatusAcknowledgedWithWarning MessageStatus = "ACKNOWLEDGED_WITH_WARNING"
	StatusDeleted                 MessageStatus = "DELETED"

	// StatusNotFound is a sentinel for "no log row found". Never persisted.
	StatusNotFound MessageStatus = "NOT_FOUND"
)

// IsFinal reports whether the status ends the retry lifecycle. A message in
// a final state must never carry a pending reschedule timestamp.
func (s MessageStatus) IsFinal() bool {
	switch s {
	case StatusDeleted, StatusAcknowledged, StatusAcknowledgedWithWarning,
		StatusDownloaded, StatusSendFailure:
		return true
	}
	return false
}

// IsAcknowledged reports whether a receipt has been confirmed for the message.
func (s MessageStatus) IsAcknowledged() bool {
	return s == StatusAcknowledged || s == StatusAcknowledgedWithWarning
}

// MSHRole is the role the gateway plays for a given message.
type MSHRole string

const (
	RoleSending   MSHRole = "SENDING"
	RoleReceiving MSHRole = "RECEIVING"
)

// NotificationStatus tracks the plugin notification lifecycle of a message.
type NotificationStatus string

const (
	NotificationStatusNotRequired NotificationStatus = "NOT_REQUIRED"
	NotificationStatusRequired    NotificationStatus = "REQUIRED"
	NotificationStatusNotified    NotificationStatus = "NOTIFIED"
)

// MessageSubtype marks messages that are connectivity test exchanges.
type MessageSubtype string

const (
	SubtypeNone MessageSubtype = ""
	SubtypeTest MessageSubtype = "TEST"
)
