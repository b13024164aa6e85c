package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// Audit actions recorded against messages.
const (
	auditActionResent     = "RESENT"
	auditActionDownloaded = "DOWNLOADED"
)

// PgAuditRepository records operator-visible lifecycle events.
type PgAuditRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPgAuditRepository(db Querier, logger *slog.Logger) *PgAuditRepository {
	return &PgAuditRepository{db: db, logger: logger.With("component", "audit_repository_pg")}
}

func (r *PgAuditRepository) RecordResent(ctx context.Context, tenant domain.Tenant, messageID string) error {
	return r.record(ctx, tenant, messageID, auditActionResent)
}

func (r *PgAuditRepository) RecordDownloaded(ctx context.Context, tenant domain.Tenant, messageID string) error {
	return r.record(ctx, tenant, messageID, auditActionDownloaded)
}

func (r *PgAuditRepository) record(ctx context.Context, tenant domain.Tenant, messageID, action string) error {
	query := `
		INSERT INTO msh_message_audit (id, tenant, message_id, action, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Exec(ctx, query, uuid.New(), tenant, messageID, action, time.Now().UTC()); err != nil {
		r.logger.ErrorContext(ctx, "Error recording message audit", "error", err, "message_id", messageID, "action", action)
		return err
	}
	return nil
}
