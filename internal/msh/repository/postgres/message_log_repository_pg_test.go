package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// stubDictionary hands out fixed ids so log repository tests can pin query
// arguments without exercising the dictionary tables.
type stubDictionary struct{}

func (stubDictionary) StatusID(_ context.Context, status domain.MessageStatus) (int32, error) {
	switch status {
	case domain.StatusSendFailure:
		return 7, nil
	case domain.StatusDeleted:
		return 4, nil
	default:
		return 99, nil
	}
}

func (stubDictionary) RoleID(_ context.Context, role domain.MSHRole) (int32, error) {
	if role == domain.RoleReceiving {
		return 2, nil
	}
	return 1, nil
}

func (stubDictionary) NotificationStatusID(_ context.Context, _ domain.NotificationStatus) (int32, error) {
	return 3, nil
}

func setupMessageLogTest(t *testing.T) (*PgMessageLogRepository, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewPgMessageLogRepository(mockPool, stubDictionary{}, logger)
	return repo, mockPool
}

func logColumns(pool pgxmock.PgxPoolIface) *pgxmock.Rows {
	return pool.NewRows([]string{
		"entity_id", "message_id", "tenant", "role", "status", "notification_status",
		"backend_name", "mpc", "received",
		"failed", "restored", "deleted", "downloaded", "acknowledged", "archived", "exported",
		"next_attempt", "send_attempts", "send_attempts_max", "scheduled",
	})
}

func TestPgMessageLogRepository_FindByMessageID(t *testing.T) {
	repo, mockPool := setupMessageLogTest(t)
	defer mockPool.Close()

	received := time.Now().UTC().Add(-2 * time.Hour)
	failed := received.Add(time.Hour)

	t.Run("Found", func(t *testing.T) {
		rows := logColumns(mockPool).AddRow(
			int64(11), "msg-1", "acme", "SENDING", "SEND_FAILURE", "REQUIRED",
			"backendA", "defaultMPC", received,
			&failed, nil, nil, nil, nil, nil, nil,
			nil, 3, 3, false,
		)
		mockPool.ExpectQuery(`SELECT l\.entity_id, l\.message_id, l\.tenant`).
			WithArgs(domain.Tenant("acme"), "msg-1", int32(1)).
			WillReturnRows(rows)

		log, err := repo.FindByMessageID(context.Background(), "acme", "msg-1", domain.RoleSending)
		require.NoError(t, err)
		require.NotNil(t, log)
		assert.Equal(t, int64(11), log.EntityID)
		assert.Equal(t, domain.StatusSendFailure, log.Status)
		assert.Equal(t, domain.RoleSending, log.Role)
		assert.Equal(t, 3, log.SendAttempts)
		require.NotNil(t, log.Failed)
		assert.True(t, log.Failed.Equal(failed))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool.ExpectQuery(`SELECT l\.entity_id, l\.message_id, l\.tenant`).
			WithArgs(domain.Tenant("acme"), "missing", int32(1)).
			WillReturnError(pgx.ErrNoRows)

		log, err := repo.FindByMessageID(context.Background(), "acme", "missing", domain.RoleSending)
		require.ErrorIs(t, err, domain.ErrMessageNotFound)
		assert.Nil(t, log)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageLogRepository_Update(t *testing.T) {
	repo, mockPool := setupMessageLogTest(t)
	defer mockPool.Close()

	log := &domain.MessageLog{
		EntityID:           11,
		MessageID:          "msg-1",
		Role:               domain.RoleSending,
		Status:             domain.StatusSendFailure,
		NotificationStatus: domain.NotificationStatusRequired,
		SendAttempts:       3,
		SendAttemptsMax:    6,
	}

	t.Run("Updated", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE msh_message_log SET`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.Update(context.Background(), "acme", log)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NoRowMeansNotFound", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE msh_message_log SET`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(context.Background(), "acme", log)
		require.ErrorIs(t, err, domain.ErrMessageNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageLogRepository_UpdateDeletedBatched_ChunksIDs(t *testing.T) {
	repo, mockPool := setupMessageLogTest(t)
	defer mockPool.Close()

	ids := make([]int64, 1500)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	mockPool.ExpectExec(`UPDATE msh_message_log SET deleted = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1000))
	mockPool.ExpectExec(`UPDATE msh_message_log SET deleted = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 500))

	err := repo.UpdateDeletedBatched(context.Background(), "acme", ids)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgMessageLogRepository_DeleteMessageLogs(t *testing.T) {
	repo, mockPool := setupMessageLogTest(t)
	defer mockPool.Close()

	ids := make([]string, 1200)
	for i := range ids {
		ids[i] = "msg"
	}

	t.Run("SumsRowsAcrossChunks", func(t *testing.T) {
		mockPool.ExpectExec(`DELETE FROM msh_message_log WHERE tenant = \$1`).
			WillReturnResult(pgxmock.NewResult("DELETE", 7))
		mockPool.ExpectExec(`DELETE FROM msh_message_log WHERE tenant = \$1`).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		deleted, err := repo.DeleteMessageLogs(context.Background(), "acme", ids)
		require.NoError(t, err)
		assert.Equal(t, int64(10), deleted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("StopsOnError", func(t *testing.T) {
		dbErr := errors.New("database error")
		mockPool.ExpectExec(`DELETE FROM msh_message_log WHERE tenant = \$1`).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))
		mockPool.ExpectExec(`DELETE FROM msh_message_log WHERE tenant = \$1`).
			WillReturnError(dbErr)

		deleted, err := repo.DeleteMessageLogs(context.Background(), "acme", ids)
		require.Error(t, err)
		assert.Equal(t, int64(4), deleted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageLogRepository_FindFailedMessages(t *testing.T) {
	repo, mockPool := setupMessageLogTest(t)
	defer mockPool.Close()

	start := time.Now().UTC().Add(-24 * time.Hour)
	end := time.Now().UTC()

	rows := mockPool.NewRows([]string{"message_id"}).
		AddRow("msg-1").
		AddRow("msg-2")
	mockPool.ExpectQuery(`SELECT l\.message_id\s+FROM msh_message_log l\s+JOIN msh_message m`).
		WithArgs(domain.Tenant("acme"), int32(7), start, end, "", "partyA").
		WillReturnRows(rows)

	ids, err := repo.FindFailedMessages(context.Background(), "acme", start, end, "", "partyA")
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1", "msg-2"}, ids)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
