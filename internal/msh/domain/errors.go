package domain

import "errors"

var (
	// ErrMessageNotFound is returned when no message or log row exists for
	// the requested identifier. Surfaced to the caller, never retried.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageDeleted is returned on an attempt to restore a message
	// whose log is already in the DELETED state.
	ErrMessageDeleted = errors.New("message is deleted")

	// ErrInvalidStatus is returned when an operation requires the message
	// to be in a specific state and it is not.
	ErrInvalidStatus = errors.New("message has unexpected status")

	// ErrAlreadyScheduled is returned when a resend is requested for a
	// message that already has a pending dispatch.
	ErrAlreadyScheduled = errors.New("message is already scheduled")

	// ErrPayloadSizeExceeded is returned when a payload part exceeds the
	// maximum size allowed by the processing-mode leg configuration.
	ErrPayloadSizeExceeded = errors.New("payload size exceeds configured maximum")

	// ErrResendTooSoon is returned when an enqueued message is resent
	// before the configured cooldown since reception has elapsed.
	ErrResendTooSoon = errors.New("resend requested before cooldown elapsed")
)
