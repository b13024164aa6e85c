package http

import "time"

type messageStatusResponseDTO struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type failedMessagesResponseDTO struct {
	MessageIDs []string `json:"message_ids"`
}

type elapsedTimeResponseDTO struct {
	MessageID     string `json:"message_id"`
	FailedPeriod  string `json:"failed_period"`
	FailedSeconds int64  `json:"failed_seconds"`
}

// BatchRestoreRequestDTO restores an explicit id list, or every failed
// message inside the period when the list is empty.
type BatchRestoreRequestDTO struct {
	MessageIDs     []string   `json:"message_ids"`
	Start          *time.Time `json:"start"`
	End            *time.Time `json:"end"`
	FinalRecipient string     `json:"final_recipient"`
	OriginalUser   string     `json:"original_user"`
}

type restoreFailureDTO struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

type restoreReportResponseDTO struct {
	Restored []string            `json:"restored"`
	Failed   []restoreFailureDTO `json:"failed"`
}

// BatchDeleteRequestDTO removes the listed messages and every record that
// hangs off them.
type BatchDeleteRequestDTO struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1"`
}
