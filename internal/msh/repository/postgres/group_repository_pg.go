package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// PgMessageGroupRepository persists split-and-join groups.
type PgMessageGroupRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPgMessageGroupRepository(db Querier, logger *slog.Logger) *PgMessageGroupRepository {
	return &PgMessageGroupRepository{db: db, logger: logger.With("component", "group_repository_pg")}
}

func (r *PgMessageGroupRepository) Create(ctx context.Context, tenant domain.Tenant, group *domain.MessageGroup) error {
	query := `
		INSERT INTO msh_message_group (group_id, tenant, source_message_id, fragment_count, compressed_size, failed, failure_detail, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING entity_id
	`
	err := r.db.QueryRow(ctx, query,
		group.GroupID, tenant, group.SourceMessageID, group.FragmentCount,
		group.CompressedSize, group.Failed, group.FailureDetail, group.Created,
	).Scan(&group.EntityID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating message group", "error", err, "group_id", group.GroupID, "tenant", tenant)
		return fmt.Errorf("creating message group %s: %w", group.GroupID, err)
	}
	return nil
}

const selectGroup = `
	SELECT entity_id, group_id, tenant, source_message_id, fragment_count, compressed_size, failed, failure_detail, created
	FROM msh_message_group`

func (r *PgMessageGroupRepository) FindByGroupID(ctx context.Context, tenant domain.Tenant, groupID string) (*domain.MessageGroup, error) {
	query := selectGroup + ` WHERE tenant = $1 AND group_id = $2`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, tenant, groupID))
}

func (r *PgMessageGroupRepository) FindBySourceMessageID(ctx context.Context, tenant domain.Tenant, sourceMessageID string) (*domain.MessageGroup, error) {
	query := selectGroup + ` WHERE tenant = $1 AND source_message_id = $2`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, tenant, sourceMessageID))
}

func (r *PgMessageGroupRepository) scanOne(ctx context.Context, row pgx.Row) (*domain.MessageGroup, error) {
	var g domain.MessageGroup
	err := row.Scan(
		&g.EntityID, &g.GroupID, &g.Tenant, &g.SourceMessageID,
		&g.FragmentCount, &g.CompressedSize, &g.Failed, &g.FailureDetail, &g.Created,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding message group", "error", err)
		return nil, err
	}
	return &g, nil
}

func (r *PgMessageGroupRepository) SetFailed(ctx context.Context, tenant domain.Tenant, groupID, detail string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE msh_message_group SET failed = TRUE, failure_detail = $1, failed_at = $2 WHERE tenant = $3 AND group_id = $4`,
		detail, time.Now().UTC(), tenant, groupID,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking message group failed", "error", err, "group_id", groupID, "tenant", tenant)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}
