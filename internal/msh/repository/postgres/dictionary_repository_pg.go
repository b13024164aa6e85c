package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// PgDictionaryRepository resolves enumeration values against the shared
// dictionary tables. Lookups are cached for the life of the process since
// dictionary rows are never removed.
type PgDictionaryRepository struct {
	db     Querier
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]int32
}

func NewPgDictionaryRepository(db Querier, logger *slog.Logger) *PgDictionaryRepository {
	return &PgDictionaryRepository{
		db:     db,
		logger: logger.With("component", "dictionary_repository_pg"),
		cache:  make(map[string]int32),
	}
}

func (r *PgDictionaryRepository) StatusID(ctx context.Context, status domain.MessageStatus) (int32, error) {
	return r.resolve(ctx, "msh_message_status", string(status))
}

func (r *PgDictionaryRepository) RoleID(ctx context.Context, role domain.MSHRole) (int32, error) {
	return r.resolve(ctx, "msh_role", string(role))
}

func (r *PgDictionaryRepository) NotificationStatusID(ctx context.Context, status domain.NotificationStatus) (int32, error) {
	return r.resolve(ctx, "msh_notification_status", string(status))
}

// resolve is find-or-create. The upsert rewrites the value to itself so the
// RETURNING clause yields the id on both the insert and the conflict path,
// which keeps concurrent first use to a single round trip without duplicate
// rows.
func (r *PgDictionaryRepository) resolve(ctx context.Context, table, value string) (int32, error) {
	cacheKey := table + ":" + value

	r.mu.RLock()
	id, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (value) VALUES ($1)
		ON CONFLICT (value) DO UPDATE SET value = EXCLUDED.value
		RETURNING id
	`, table)

	if err := r.db.QueryRow(ctx, query, value).Scan(&id); err != nil {
		r.logger.ErrorContext(ctx, "Error resolving dictionary value", "error", err, "table", table, "value", value)
		return 0, fmt.Errorf("resolving %s %q: %w", table, value, err)
	}

	r.mu.Lock()
	r.cache[cacheKey] = id
	r.mu.Unlock()
	return id, nil
}
