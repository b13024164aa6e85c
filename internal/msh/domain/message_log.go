package domain

import "time"

// MessageLog is the mutable per-attempt record of a message: one row per
// (message id, role). The paired Message is referenced, never copied.
type MessageLog struct {
	EntityID  int64
	MessageID string
	Tenant    Tenant
	Role      MSHRole

	Status             MessageStatus
	NotificationStatus NotificationStatus
	BackendName        string
	MPC                string

	Received     time.Time
	Failed       *time.Time
	Restored     *time.Time
	Deleted      *time.Time
	Downloaded   *time.Time
	Acknowledged *time.Time
	Archived     *time.Time
	Exported     *time.Time

	// NextAttempt and Scheduled together distinguish "already queued,
	// waiting for the dispatcher" from "needs a fresh restore".
	NextAttempt     *time.Time
	SendAttempts    int
	SendAttemptsMax int
	Scheduled       bool
}

// SetStatus transitions the log to the given status. Final statuses always
// clear any pending reschedule: a message that is deleted, acknowledged,
// downloaded or definitively failed must never carry a retry timestamp.
func (l *MessageLog) SetStatus(status MessageStatus) {
	l.Status = status
	if status.IsFinal() {
		l.NextAttempt = nil
	}
}

// AttemptsExhausted reports whether the send-attempt budget is used up.
func (l *MessageLog) AttemptsExhausted() bool {
	return l.SendAttempts >= l.SendAttemptsMax
}
