package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/platform/batch"
)

// PgMessageLogRepository persists the mutable per-attempt log rows.
type PgMessageLogRepository struct {
	db     Querier
	dict   domain.DictionaryRepository
	logger *slog.Logger
}

func NewPgMessageLogRepository(db Querier, dict domain.DictionaryRepository, logger *slog.Logger) *PgMessageLogRepository {
	return &PgMessageLogRepository{db: db, dict: dict, logger: logger.With("component", "message_log_repository_pg")}
}

func (r *PgMessageLogRepository) Create(ctx context.Context, tenant domain.Tenant, log *domain.MessageLog) error {
	roleID, statusID, notifID, err := r.resolveIDs(ctx, log)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO msh_message_log (
			message_id, tenant, role_id, status_id, notification_status_id,
			backend_name, mpc, received,
			next_attempt, send_attempts, send_attempts_max, scheduled
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING entity_id
	`
	err = r.db.QueryRow(ctx, query,
		log.MessageID, tenant, roleID, statusID, notifID,
		log.BackendName, log.MPC, log.Received,
		log.NextAttempt, log.SendAttempts, log.SendAttemptsMax, log.Scheduled,
	).Scan(&log.EntityID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating message log", "error", err, "message_id", log.MessageID, "tenant", tenant)
		return fmt.Errorf("creating message log %s: %w", log.MessageID, err)
	}
	return nil
}

func (r *PgMessageLogRepository) Update(ctx context.Context, tenant domain.Tenant, log *domain.MessageLog) error {
	roleID, statusID, notifID, err := r.resolveIDs(ctx, log)
	if err != nil {
		return err
	}
	query := `
		UPDATE msh_message_log SET
			role_id = $1, status_id = $2, notification_status_id = $3,
			backend_name = $4, mpc = $5,
			failed = $6, restored = $7, deleted = $8, downloaded = $9,
			acknowledged = $10, archived = $11, exported = $12,
			next_attempt = $13, send_attempts = $14, send_attempts_max = $15, scheduled = $16
		WHERE tenant = $17 AND entity_id = $18
	`
	tag, err := r.db.Exec(ctx, query,
		roleID, statusID, notifID,
		log.BackendName, log.MPC,
		log.Failed, log.Restored, log.Deleted, log.Downloaded,
		log.Acknowledged, log.Archived, log.Exported,
		log.NextAttempt, log.SendAttempts, log.SendAttemptsMax, log.Scheduled,
		tenant, log.EntityID,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating message log", "error", err, "message_id", log.MessageID, "tenant", tenant)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *PgMessageLogRepository) resolveIDs(ctx context.Context, log *domain.MessageLog) (roleID, statusID, notifID int32, err error) {
	if roleID, err = r.dict.RoleID(ctx, log.Role); err != nil {
		return
	}
	if statusID, err = r.dict.StatusID(ctx, log.Status); err != nil {
		return
	}
	notifID, err = r.dict.NotificationStatusID(ctx, log.NotificationStatus)
	return
}

const selectMessageLog = `
	SELECT l.entity_id, l.message_id, l.tenant, r.value, s.value, n.value,
	       l.backend_name, l.mpc, l.received,
	       l.failed, l.restored, l.deleted, l.downloaded, l.acknowledged, l.archived, l.exported,
	       l.next_attempt, l.send_attempts, l.send_attempts_max, l.scheduled
	FROM msh_message_log l
	JOIN msh_role r ON r.id = l.role_id
	JOIN msh_message_status s ON s.id = l.status_id
	JOIN msh_notification_status n ON n.id = l.notification_status_id`

func (r *PgMessageLogRepository) FindByMessageID(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (*domain.MessageLog, error) {
	roleID, err := r.dict.RoleID(ctx, role)
	if err != nil {
		return nil, err
	}
	query := selectMessageLog + ` WHERE l.tenant = $1 AND l.message_id = $2 AND l.role_id = $3`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, tenant, messageID, roleID))
}

func (r *PgMessageLogRepository) FindByEntityID(ctx context.Context, tenant domain.Tenant, entityID int64) (*domain.MessageLog, error) {
	query := selectMessageLog + ` WHERE l.tenant = $1 AND l.entity_id = $2`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, tenant, entityID))
}

func (r *PgMessageLogRepository) scanOne(ctx context.Context, row pgx.Row) (*domain.MessageLog, error) {
	var l domain.MessageLog
	var role, status, notif string
	err := row.Scan(
		&l.EntityID, &l.MessageID, &l.Tenant, &role, &status, &notif,
		&l.BackendName, &l.MPC, &l.Received,
		&l.Failed, &l.Restored, &l.Deleted, &l.Downloaded, &l.Acknowledged, &l.Archived, &l.Exported,
		&l.NextAttempt, &l.SendAttempts, &l.SendAttemptsMax, &l.Scheduled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding message log", "error", err)
		return nil, err
	}
	l.Role = domain.MSHRole(role)
	l.Status = domain.MessageStatus(status)
	l.NotificationStatus = domain.NotificationStatus(notif)
	return &l, nil
}

// FindFailedMessages lists ids of definitively failed messages whose failed
// timestamp falls inside [start, end]. Empty filter values match everything.
func (r *PgMessageLogRepository) FindFailedMessages(ctx context.Context, tenant domain.Tenant, start, end time.Time, finalRecipient, originalUser string) ([]string, error) {
	statusID, err := r.dict.StatusID(ctx, domain.StatusSendFailure)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT l.message_id
		FROM msh_message_log l
		JOIN msh_message m ON m.tenant = l.tenant AND m.message_id = l.message_id AND m.role_id = l.role_id
		WHERE l.tenant = $1 AND l.status_id = $2
		  AND l.failed >= $3 AND l.failed <= $4
		  AND ($5 = '' OR m.final_recipient = $5)
		  AND ($6 = '' OR m.original_user = $6)
		ORDER BY l.failed
	`
	rows, err := r.db.Query(ctx, query, tenant, statusID, start, end, finalRecipient, originalUser)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finding failed messages", "error", err, "tenant", tenant)
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (r *PgMessageLogRepository) UpdateArchived(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	return r.stampColumn(ctx, tenant, "archived", entityIDs)
}

func (r *PgMessageLogRepository) UpdateExported(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	return r.stampColumn(ctx, tenant, "exported", entityIDs)
}

func (r *PgMessageLogRepository) UpdateDeletedBatched(ctx context.Context, tenant domain.Tenant, entityIDs []int64) error {
	return r.stampColumn(ctx, tenant, "deleted", entityIDs)
}

// stampColumn sets a single timestamp column to now for every listed row,
// chunking the id list so no statement exceeds the IN-clause bound.
func (r *PgMessageLogRepository) stampColumn(ctx context.Context, tenant domain.Tenant, column string, entityIDs []int64) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE msh_message_log SET %s = $1 WHERE tenant = $2 AND entity_id = ANY($3)`, column)
	err := batch.Process(entityIDs, batch.MaxInClauseSize, func(chunk []int64) error {
		_, err := r.db.Exec(ctx, query, now, tenant, chunk)
		return err
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error stamping message logs", "error", err, "column", column, "tenant", tenant)
		return err
	}
	return nil
}

func (r *PgMessageLogRepository) DeleteMessageLogs(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	var total int64
	for _, chunk := range batch.Split(messageIDs, batch.MaxInClauseSize) {
		tag, err := r.db.Exec(ctx,
			`DELETE FROM msh_message_log WHERE tenant = $1 AND message_id = ANY($2)`,
			tenant, chunk,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error deleting message logs", "error", err, "tenant", tenant)
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// FindRetentionExpired lists ids of final-state messages received before the
// cutoff and not yet cleaned up, oldest first.
func (r *PgMessageLogRepository) FindRetentionExpired(ctx context.Context, tenant domain.Tenant, olderThan time.Time, limit int) ([]string, error) {
	finalStatuses := []domain.MessageStatus{
		domain.StatusDeleted,
		domain.StatusAcknowledged,
		domain.StatusAcknowledgedWithWarning,
		domain.StatusDownloaded,
		domain.StatusSendFailure,
	}
	statusIDs := make([]int32, 0, len(finalStatuses))
	for _, st := range finalStatuses {
		id, err := r.dict.StatusID(ctx, st)
		if err != nil {
			return nil, err
		}
		statusIDs = append(statusIDs, id)
	}
	query := `
		SELECT message_id
		FROM msh_message_log
		WHERE tenant = $1 AND status_id = ANY($2) AND received < $3
		ORDER BY received
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, tenant, statusIDs, olderThan, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finding retention expired messages", "error", err, "tenant", tenant)
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
