package postgres

import (
	"context"
	"log/slog"

	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/platform/batch"
)

// PgHousekeepingRepository removes the auxiliary records that reference a
// message and must go before the message rows themselves.
type PgHousekeepingRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPgHousekeepingRepository(db Querier, logger *slog.Logger) *PgHousekeepingRepository {
	return &PgHousekeepingRepository{db: db, logger: logger.With("component", "housekeeping_repository_pg")}
}

func (r *PgHousekeepingRepository) DeleteSendAttempts(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	return r.deleteByMessageIDs(ctx, tenant, `DELETE FROM msh_send_attempt WHERE tenant = $1 AND message_id = ANY($2)`, messageIDs)
}

func (r *PgHousekeepingRepository) DeleteErrorLogs(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	return r.deleteByMessageIDs(ctx, tenant, `DELETE FROM msh_error_log WHERE tenant = $1 AND message_id = ANY($2)`, messageIDs)
}

func (r *PgHousekeepingRepository) DeleteUIMessages(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	return r.deleteByMessageIDs(ctx, tenant, `DELETE FROM msh_ui_message WHERE tenant = $1 AND message_id = ANY($2)`, messageIDs)
}

func (r *PgHousekeepingRepository) DeleteAcknowledgements(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	return r.deleteByMessageIDs(ctx, tenant, `DELETE FROM msh_message_acknowledgement WHERE tenant = $1 AND message_id = ANY($2)`, messageIDs)
}

func (r *PgHousekeepingRepository) deleteByMessageIDs(ctx context.Context, tenant domain.Tenant, query string, messageIDs []string) (int64, error) {
	var total int64
	for _, chunk := range batch.Split(messageIDs, batch.MaxInClauseSize) {
		tag, err := r.db.Exec(ctx, query, tenant, chunk)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error deleting housekeeping records", "error", err, "tenant", tenant)
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
