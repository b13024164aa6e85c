package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/openmsh/as4gateway/internal/msh/app"
	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/msh/middleware"
)

// MessageHandler exposes the message lifecycle operations to operators.
type MessageHandler struct {
	restore   *app.RestoreService
	retention *app.RetentionService
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewMessageHandler(restore *app.RestoreService, retention *app.RetentionService, logger *slog.Logger, validate *validator.Validate) *MessageHandler {
	return &MessageHandler{
		restore:   restore,
		retention: retention,
		logger:    logger,
		validate:  validate,
	}
}

// NewRouter builds the admin API router. All message routes sit behind the
// JWT middleware, which scopes each request to its token's tenant.
func NewRouter(handler *MessageHandler, jwtSecret string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)

	r.Route("/admin/messages", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtSecret, logger))

		r.Get("/{messageID}/status", handler.GetMessageStatus)
		r.Post("/{messageID}/resend", handler.ResendMessage)
		r.Delete("/{messageID}", handler.DeleteMessage)

		r.Get("/failed", handler.ListFailedMessages)
		r.Get("/failed/{messageID}/elapsedtime", handler.GetFailedElapsedTime)
		r.Put("/failed/{messageID}/restore", handler.RestoreFailedMessage)
		r.Post("/failed/restore", handler.BatchRestore)
		r.Delete("/failed/{messageID}", handler.DeleteFailedMessage)

		r.Post("/delete", handler.BatchDelete)
	})

	return r
}

func (h *MessageHandler) GetMessageStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageID")

	log, err := h.restore.GetMessage(ctx, op.Tenant, messageID, parseRole(r))
	if err != nil {
		h.writeDomainError(w, r, err, "get message status", messageID)
		return
	}
	h.writeJSON(w, http.StatusOK, messageStatusResponseDTO{MessageID: messageID, Status: string(log.Status)})
}

func (h *MessageHandler) ListFailedMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	start, end, err := parsePeriod(r)
	if err != nil {
		h.logger.WarnContext(ctx, "Invalid failed-message period", "error", err)
		http.Error(w, fmt.Sprintf("Invalid period: %s", err), http.StatusBadRequest)
		return
	}

	ids, err := h.restore.FindFailedMessages(ctx, op.Tenant, start, end,
		r.URL.Query().Get("final_recipient"), r.URL.Query().Get("original_user"))
	if err != nil {
		h.writeDomainError(w, r, err, "list failed messages", "")
		return
	}
	h.writeJSON(w, http.StatusOK, failedMessagesResponseDTO{MessageIDs: ids})
}

func (h *MessageHandler) GetFailedElapsedTime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageID")

	elapsed, err := h.restore.FailedMessageElapsedTime(ctx, op.Tenant, messageID)
	if err != nil {
		h.writeDomainError(w, r, err, "get failed elapsed time", messageID)
		return
	}
	h.writeJSON(w, http.StatusOK, elapsedTimeResponseDTO{
		MessageID:     messageID,
		FailedPeriod:  elapsed.String(),
		FailedSeconds: int64(elapsed.Seconds()),
	})
}

func (h *MessageHandler) RestoreFailedMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageID")

	if err := h.restore.RestoreFailedMessage(ctx, op.Tenant, messageID); err != nil {
		h.writeDomainError(w, r, err, "restore failed message", messageID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) ResendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageID")

	if err := h.restore.ResendFailedOrSendEnqueuedMessage(ctx, op.Tenant, messageID); err != nil {
		h.writeDomainError(w, r, err, "resend message", messageID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) BatchRestore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	var req BatchRestoreRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode batch restore request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.MessageIDs) == 0 && (req.Start == nil || req.End == nil) {
		http.Error(w, "Either message_ids or a start/end period is required", http.StatusBadRequest)
		return
	}

	var start, end time.Time
	if req.Start != nil {
		start = *req.Start
	}
	if req.End != nil {
		end = *req.End
	}

	report, err := h.restore.BatchRestoreFailedMessages(ctx, op.Tenant, req.MessageIDs, start, end, req.FinalRecipient, req.OriginalUser)
	if err != nil {
		h.writeDomainError(w, r, err, "batch restore", "")
		return
	}

	resp := restoreReportResponseDTO{Restored: report.Restored}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, restoreFailureDTO{MessageID: f.MessageID, Error: f.Err.Error()})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageID")

	if err := h.retention.DeleteMessage(ctx, op.Tenant, messageID, parseRole(r)); err != nil {
		h.writeDomainError(w, r, err, "delete message", messageID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) DeleteFailedMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "messageID")

	if err := h.retention.DeleteFailedMessage(ctx, op.Tenant, messageID); err != nil {
		h.writeDomainError(w, r, err, "delete failed message", messageID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) BatchDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := middleware.OperatorFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	var req BatchDeleteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode batch delete request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for batch delete", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err), http.StatusBadRequest)
		return
	}

	if err := h.retention.DeleteMessages(ctx, op.Tenant, req.MessageIDs); err != nil {
		h.writeDomainError(w, r, err, "batch delete", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseRole(r *http.Request) domain.MSHRole {
	if r.URL.Query().Get("role") == "receiving" {
		return domain.RoleReceiving
	}
	return domain.RoleSending
}

func parsePeriod(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if raw := q.Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			return start, end, fmt.Errorf("start: %w", err)
		}
	}
	if raw := q.Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			return start, end, fmt.Errorf("end: %w", err)
		}
	}
	return start, end, nil
}

func (h *MessageHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, operation, messageID string) {
	logEntry := h.logger.With("operation", operation, "message_id", messageID)

	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		logEntry.WarnContext(r.Context(), "Message not found")
		http.Error(w, "Message not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrMessageDeleted):
		logEntry.WarnContext(r.Context(), "Message already deleted")
		http.Error(w, "Message already deleted", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidStatus):
		logEntry.WarnContext(r.Context(), "Message in wrong status for operation", "error", err)
		http.Error(w, fmt.Sprintf("Operation not allowed: %s", err), http.StatusConflict)
	case errors.Is(err, domain.ErrAlreadyScheduled):
		logEntry.WarnContext(r.Context(), "Message already scheduled")
		http.Error(w, "Message already scheduled for sending", http.StatusConflict)
	case errors.Is(err, domain.ErrResendTooSoon):
		logEntry.WarnContext(r.Context(), "Resend attempted inside cooldown window")
		http.Error(w, "Message received too recently to resend", http.StatusConflict)
	default:
		logEntry.ErrorContext(r.Context(), "Unhandled error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *MessageHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
