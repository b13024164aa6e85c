package payload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// FileStore writes payload bytes to per-tenant directories on the local
// filesystem. The stored path is recorded on the part so retention can
// remove the file later.
type FileStore struct {
	baseDir string
	logger  *slog.Logger
}

// NewFileStore creates a new FileStore rooted at baseDir.
func NewFileStore(baseDir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("could not create payload directory %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir, logger: logger.With("component", "payload_file_store")}, nil
}

// StoreIncomingPayload implements domain.PayloadPersistenceProvider.
func (s *FileStore) StoreIncomingPayload(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message, leg *domain.LegConfiguration) error {
	if err := validateSize(leg, part.Length, false); err != nil {
		return err
	}
	return s.write(ctx, tenant, part, msg)
}

// StoreOutgoingPayload implements domain.PayloadPersistenceProvider.
func (s *FileStore) StoreOutgoingPayload(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message, leg *domain.LegConfiguration, backendName string) error {
	if err := validateSize(leg, part.Length, false); err != nil {
		return err
	}
	return s.write(ctx, tenant, part, msg)
}

// ValidatePayloadSize implements domain.PayloadPersistenceProvider.
func (s *FileStore) ValidatePayloadSize(leg *domain.LegConfiguration, length int64, async bool) error {
	return validateSize(leg, length, async)
}

// DeletePayloads removes the given payload files. Missing files are not an
// error; retention may run twice over the same batch.
func (s *FileStore) DeletePayloads(ctx context.Context, tenant domain.Tenant, fileNames []string) error {
	// A bare prefix check would also accept sibling directories like
	// <baseDir>-other, so compare against the cleaned root plus separator.
	root := filepath.Clean(s.baseDir) + string(os.PathSeparator)
	for _, name := range fileNames {
		if name == "" {
			continue
		}
		if !strings.HasPrefix(filepath.Clean(name), root) {
			return fmt.Errorf("refusing to delete payload outside store: %s", name)
		}
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("could not delete payload file %s: %w", name, err)
		}
	}
	s.logger.DebugContext(ctx, "Deleted payload files", "tenant", tenant, "count", len(fileNames))
	return nil
}

func (s *FileStore) write(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message) error {
	dir := filepath.Join(s.baseDir, tenant.String(), msg.MessageID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("could not create payload directory %s: %w", dir, err)
	}

	fileName := filepath.Join(dir, uuid.NewString()+".payload")
	if err := os.WriteFile(fileName, part.Data, 0o640); err != nil {
		return fmt.Errorf("could not write payload file %s: %w", fileName, err)
	}

	part.FileName = fileName
	part.Data = nil

	s.logger.DebugContext(ctx, "Stored payload", "tenant", tenant,
		"message_id", msg.MessageID, "href", part.Href, "file", fileName)
	return nil
}
