package payload

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	return store
}

func TestValidateSize(t *testing.T) {
	store := newFileStore(t)
	leg := &domain.LegConfiguration{Name: "testLeg", PayloadMaxSize: 1024}

	assert.NoError(t, store.ValidatePayloadSize(leg, 1024, false))
	assert.NoError(t, store.ValidatePayloadSize(nil, 1<<40, false))
	assert.NoError(t, store.ValidatePayloadSize(&domain.LegConfiguration{PayloadMaxSize: 0}, 1<<40, false))

	err := store.ValidatePayloadSize(leg, 1025, false)
	require.ErrorIs(t, err, domain.ErrPayloadSizeExceeded)
	assert.Contains(t, err.Error(), "synchronous")

	err = store.ValidatePayloadSize(leg, 1025, true)
	require.ErrorIs(t, err, domain.ErrPayloadSizeExceeded)
	assert.Contains(t, err.Error(), "scheduled")
}

func TestFileStore_StoreAndDelete(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	msg := &domain.Message{MessageID: "msg-1"}
	part := &domain.PartInfo{Href: "cid:part1", Data: []byte("payload bytes"), Length: 13}

	err := store.StoreOutgoingPayload(ctx, "acme", part, msg, nil, "backendA")
	require.NoError(t, err)
	require.NotEmpty(t, part.FileName)
	assert.Nil(t, part.Data)

	data, err := os.ReadFile(part.FileName)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload bytes"), data)
	assert.Equal(t, "msg-1", filepath.Base(filepath.Dir(part.FileName)))

	err = store.DeletePayloads(ctx, "acme", []string{part.FileName, ""})
	require.NoError(t, err)
	_, err = os.Stat(part.FileName)
	assert.True(t, os.IsNotExist(err))

	// Retention may sweep the same batch twice.
	assert.NoError(t, store.DeletePayloads(ctx, "acme", []string{part.FileName}))
}

func TestFileStore_RefusesPathsOutsideStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := filepath.Join(t.TempDir(), "payloads")
	store, err := NewFileStore(base, logger)
	require.NoError(t, err)

	err = store.DeletePayloads(context.Background(), "acme", []string{"/etc/passwd"})
	require.Error(t, err)

	// A sibling directory sharing the store prefix is still outside it.
	err = store.DeletePayloads(context.Background(), "acme", []string{base + "-other/file.payload"})
	require.Error(t, err)

	err = store.DeletePayloads(context.Background(), "acme", []string{filepath.Join(base, "acme", "msg", "f.payload")})
	require.NoError(t, err)
}

func TestFileStore_RejectsOversizedPart(t *testing.T) {
	store := newFileStore(t)
	leg := &domain.LegConfiguration{Name: "testLeg", PayloadMaxSize: 4}

	part := &domain.PartInfo{Href: "cid:part1", Data: []byte("payload bytes"), Length: 13}
	err := store.StoreIncomingPayload(context.Background(), "acme", part, &domain.Message{MessageID: "msg-1"}, leg)
	require.ErrorIs(t, err, domain.ErrPayloadSizeExceeded)
	assert.Empty(t, part.FileName)
}
