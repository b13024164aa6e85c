package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/platform/batch"
)

// PgSignalMessageRepository persists the receipt/error signals paired with
// user messages.
type PgSignalMessageRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPgSignalMessageRepository(db Querier, logger *slog.Logger) *PgSignalMessageRepository {
	return &PgSignalMessageRepository{db: db, logger: logger.With("component", "signal_message_repository_pg")}
}

func (r *PgSignalMessageRepository) FindByUserMessageID(ctx context.Context, tenant domain.Tenant, userMessageID string) (*domain.SignalMessage, error) {
	query := `
		SELECT entity_id, message_id, ref_to_message_id, tenant, deleted
		FROM msh_signal_message
		WHERE tenant = $1 AND ref_to_message_id = $2
	`
	var s domain.SignalMessage
	err := r.db.QueryRow(ctx, query, tenant, userMessageID).Scan(
		&s.EntityID, &s.MessageID, &s.RefToMessageID, &s.Tenant, &s.Deleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding signal message", "error", err, "user_message_id", userMessageID)
		return nil, err
	}
	return &s, nil
}

func (r *PgSignalMessageRepository) FindSignalMessageIDs(ctx context.Context, tenant domain.Tenant, userMessageIDs []string) ([]string, error) {
	var ids []string
	err := batch.Process(userMessageIDs, batch.MaxInClauseSize, func(chunk []string) error {
		rows, err := r.db.Query(ctx,
			`SELECT message_id FROM msh_signal_message WHERE tenant = $1 AND ref_to_message_id = ANY($2)`,
			tenant, chunk,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		chunkIDs, err := collectStrings(rows)
		if err != nil {
			return err
		}
		ids = append(ids, chunkIDs...)
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finding signal message ids", "error", err, "tenant", tenant)
		return nil, err
	}
	return ids, nil
}

func (r *PgSignalMessageRepository) FindReceiptIDs(ctx context.Context, tenant domain.Tenant, signalMessageIDs []string) ([]int64, error) {
	var ids []int64
	err := batch.Process(signalMessageIDs, batch.MaxInClauseSize, func(chunk []string) error {
		query := `
			SELECT rc.entity_id
			FROM msh_receipt rc
			JOIN msh_signal_message s ON s.entity_id = rc.signal_message_entity_id
			WHERE s.tenant = $1 AND s.message_id = ANY($2)
		`
		rows, err := r.db.Query(ctx, query, tenant, chunk)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finding receipt ids", "error", err, "tenant", tenant)
		return nil, err
	}
	return ids, nil
}

func (r *PgSignalMessageRepository) SetDeleted(ctx context.Context, tenant domain.Tenant, signalMessageID string, when time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE msh_signal_message SET deleted = $1 WHERE tenant = $2 AND message_id = $3`,
		when, tenant, signalMessageID,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking signal message deleted", "error", err, "signal_message_id", signalMessageID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *PgSignalMessageRepository) DeleteMessages(ctx context.Context, tenant domain.Tenant, signalMessageIDs []string) (int64, error) {
	return r.deleteByIDs(ctx, tenant, `DELETE FROM msh_signal_message WHERE tenant = $1 AND message_id = ANY($2)`, signalMessageIDs)
}

func (r *PgSignalMessageRepository) DeleteMessageLogs(ctx context.Context, tenant domain.Tenant, signalMessageIDs []string) (int64, error) {
	return r.deleteByIDs(ctx, tenant, `DELETE FROM msh_signal_message_log WHERE tenant = $1 AND message_id = ANY($2)`, signalMessageIDs)
}

func (r *PgSignalMessageRepository) deleteByIDs(ctx context.Context, tenant domain.Tenant, query string, ids []string) (int64, error) {
	var total int64
	for _, chunk := range batch.Split(ids, batch.MaxInClauseSize) {
		tag, err := r.db.Exec(ctx, query, tenant, chunk)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error deleting signal records", "error", err, "tenant", tenant)
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// DeleteReceipts removes receipt rows by entity id. The ids were collected
// tenant-scoped through FindReceiptIDs; no join here, since the signal rows
// they reference may be gone by now.
func (r *PgSignalMessageRepository) DeleteReceipts(ctx context.Context, tenant domain.Tenant, receiptIDs []int64) (int64, error) {
	var total int64
	for _, chunk := range batch.Split(receiptIDs, batch.MaxInClauseSize) {
		tag, err := r.db.Exec(ctx, `DELETE FROM msh_receipt WHERE entity_id = ANY($1)`, chunk)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error deleting receipts", "error", err, "tenant", tenant)
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
