package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/platform/batch"
)

// PgMessageRepository persists the immutable message envelope and its
// payload part metadata.
type PgMessageRepository struct {
	db     Querier
	dict   domain.DictionaryRepository
	logger *slog.Logger
}

func NewPgMessageRepository(db Querier, dict domain.DictionaryRepository, logger *slog.Logger) *PgMessageRepository {
	return &PgMessageRepository{db: db, dict: dict, logger: logger.With("component", "message_repository_pg")}
}

func (r *PgMessageRepository) Create(ctx context.Context, tenant domain.Tenant, msg *domain.Message) error {
	roleID, err := r.dict.RoleID(ctx, msg.Role)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO msh_message (
			message_id, ref_to_message_id, tenant, role_id,
			conversation_id, service, action, agreement_ref,
			from_party_id, from_role, to_party_id, to_role,
			mpc, subtype, final_recipient, original_user,
			source_message, message_fragment, group_id, created
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING entity_id
	`
	err = r.db.QueryRow(ctx, query,
		msg.MessageID, msg.RefToMessageID, tenant, roleID,
		msg.ConversationID, msg.Service, msg.Action, msg.AgreementRef,
		msg.From.PartyID, msg.From.Role, msg.To.PartyID, msg.To.Role,
		msg.MPC, string(msg.Subtype), msg.FinalRecipient, msg.OriginalUser,
		msg.SourceMessage, msg.MessageFragment, msg.GroupID, msg.Created,
	).Scan(&msg.EntityID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating message", "error", err, "message_id", msg.MessageID, "tenant", tenant)
		return fmt.Errorf("creating message %s: %w", msg.MessageID, err)
	}

	for i := range msg.Parts {
		if err := r.createPart(ctx, msg.EntityID, &msg.Parts[i]); err != nil {
			return err
		}
	}

	r.logger.InfoContext(ctx, "Message created", "message_id", msg.MessageID, "tenant", tenant, "parts", len(msg.Parts))
	return nil
}

func (r *PgMessageRepository) createPart(ctx context.Context, messageEntityID int64, part *domain.PartInfo) error {
	props, err := json.Marshal(part.Properties)
	if err != nil {
		return fmt.Errorf("encoding part properties: %w", err)
	}
	query := `
		INSERT INTO msh_part_info (message_entity_id, href, length, content_type, file_name, in_body, properties)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING entity_id
	`
	err = r.db.QueryRow(ctx, query,
		messageEntityID, part.Href, part.Length, part.ContentType, part.FileName, part.InBody, props,
	).Scan(&part.EntityID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating part info", "error", err, "href", part.Href)
		return fmt.Errorf("creating part %q: %w", part.Href, err)
	}
	return nil
}

func (r *PgMessageRepository) FindByMessageID(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (*domain.Message, error) {
	roleID, err := r.dict.RoleID(ctx, role)
	if err != nil {
		return nil, err
	}
	query := selectMessage + ` WHERE m.tenant = $1 AND m.message_id = $2 AND m.role_id = $3`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, tenant, messageID, roleID))
}

func (r *PgMessageRepository) FindByEntityID(ctx context.Context, tenant domain.Tenant, entityID int64) (*domain.Message, error) {
	query := selectMessage + ` WHERE m.tenant = $1 AND m.entity_id = $2`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, tenant, entityID))
}

const selectMessage = `
	SELECT m.entity_id, m.message_id, m.ref_to_message_id, m.tenant, r.value,
	       m.conversation_id, m.service, m.action, m.agreement_ref,
	       m.from_party_id, m.from_role, m.to_party_id, m.to_role,
	       m.mpc, m.subtype, m.final_recipient, m.original_user,
	       m.source_message, m.message_fragment, m.group_id, m.created
	FROM msh_message m
	JOIN msh_role r ON r.id = m.role_id`

func (r *PgMessageRepository) scanOne(ctx context.Context, row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	var role, subtype string
	err := row.Scan(
		&m.EntityID, &m.MessageID, &m.RefToMessageID, &m.Tenant, &role,
		&m.ConversationID, &m.Service, &m.Action, &m.AgreementRef,
		&m.From.PartyID, &m.From.Role, &m.To.PartyID, &m.To.Role,
		&m.MPC, &subtype, &m.FinalRecipient, &m.OriginalUser,
		&m.SourceMessage, &m.MessageFragment, &m.GroupID, &m.Created,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding message", "error", err)
		return nil, err
	}
	m.Role = domain.MSHRole(role)
	m.Subtype = domain.MessageSubtype(subtype)
	if err := r.loadParts(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PgMessageRepository) loadParts(ctx context.Context, m *domain.Message) error {
	query := `
		SELECT entity_id, href, length, content_type, file_name, in_body, properties
		FROM msh_part_info
		WHERE message_entity_id = $1
		ORDER BY entity_id
	`
	rows, err := r.db.Query(ctx, query, m.EntityID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error loading part infos", "error", err, "message_id", m.MessageID)
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.PartInfo
		var props []byte
		if err := rows.Scan(&p.EntityID, &p.Href, &p.Length, &p.ContentType, &p.FileName, &p.InBody, &props); err != nil {
			return err
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &p.Properties); err != nil {
				return fmt.Errorf("decoding part properties: %w", err)
			}
		}
		m.Parts = append(m.Parts, p)
	}
	return rows.Err()
}

// UpdatePartFileName links the stored payload location to a part row after a
// deferred payload write completes.
func (r *PgMessageRepository) UpdatePartFileName(ctx context.Context, tenant domain.Tenant, messageEntityID int64, href, fileName string) error {
	query := `
		UPDATE msh_part_info p SET file_name = $1
		FROM msh_message m
		WHERE m.entity_id = p.message_entity_id
		  AND m.tenant = $2 AND p.message_entity_id = $3 AND p.href = $4
	`
	tag, err := r.db.Exec(ctx, query, fileName, tenant, messageEntityID, href)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error linking stored payload", "error", err, "entity_id", messageEntityID, "href", href)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// ClearPayloadData drops the stored payload references of a message so the
// bytes become unreachable while the part metadata survives for auditing.
func (r *PgMessageRepository) ClearPayloadData(ctx context.Context, tenant domain.Tenant, messageEntityID int64) error {
	query := `
		UPDATE msh_part_info SET file_name = NULL
		WHERE message_entity_id = (
			SELECT entity_id FROM msh_message WHERE tenant = $1 AND entity_id = $2
		)
	`
	if _, err := r.db.Exec(ctx, query, tenant, messageEntityID); err != nil {
		r.logger.ErrorContext(ctx, "Error clearing payload data", "error", err, "entity_id", messageEntityID, "tenant", tenant)
		return err
	}
	return nil
}

func (r *PgMessageRepository) DeleteMessages(ctx context.Context, tenant domain.Tenant, messageIDs []string) (int64, error) {
	var total int64
	for _, chunk := range batch.Split(messageIDs, batch.MaxInClauseSize) {
		tag, err := r.db.Exec(ctx,
			`DELETE FROM msh_message WHERE tenant = $1 AND message_id = ANY($2)`,
			tenant, chunk,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error deleting messages", "error", err, "tenant", tenant)
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// FindPayloadFileNames lists the stored payload references of the given
// messages so the payload store can remove the bytes before the rows go.
func (r *PgMessageRepository) FindPayloadFileNames(ctx context.Context, tenant domain.Tenant, messageIDs []string) ([]string, error) {
	var names []string
	err := batch.Process(messageIDs, batch.MaxInClauseSize, func(chunk []string) error {
		query := `
			SELECT p.file_name
			FROM msh_part_info p
			JOIN msh_message m ON m.entity_id = p.message_entity_id
			WHERE m.tenant = $1 AND m.message_id = ANY($2) AND p.file_name IS NOT NULL AND p.file_name <> ''
		`
		rows, err := r.db.Query(ctx, query, tenant, chunk)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finding payload file names", "error", err, "tenant", tenant)
		return nil, err
	}
	return names, nil
}
