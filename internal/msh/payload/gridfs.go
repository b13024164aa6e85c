package payload

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// GridFSConfig holds MongoDB connection settings for the GridFS store.
type GridFSConfig struct {
	URI            string
	Database       string
	Bucket         string
	ChunkSizeBytes int32
}

// GridFSStore keeps payload bytes in a MongoDB GridFS bucket, one file per
// part. The stored object id is recorded on the part as its file name.
type GridFSStore struct {
	client *mongo.Client
	bucket *gridfs.Bucket
	logger *slog.Logger
}

// NewGridFSStore connects to MongoDB and opens the payload bucket.
func NewGridFSStore(ctx context.Context, cfg *GridFSConfig, logger *slog.Logger) (*GridFSStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	bucketName := cfg.Bucket
	if bucketName == "" {
		bucketName = "payloads"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}

	bucket, err := gridfs.NewBucket(client.Database(cfg.Database), options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	return &GridFSStore{client: client, bucket: bucket, logger: logger.With("component", "payload_gridfs_store")}, nil
}

// StoreIncomingPayload implements domain.PayloadPersistenceProvider.
func (s *GridFSStore) StoreIncomingPayload(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message, leg *domain.LegConfiguration) error {
	if err := validateSize(leg, part.Length, false); err != nil {
		return err
	}
	return s.upload(ctx, tenant, part, msg, "")
}

// StoreOutgoingPayload implements domain.PayloadPersistenceProvider.
func (s *GridFSStore) StoreOutgoingPayload(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message, leg *domain.LegConfiguration, backendName string) error {
	if err := validateSize(leg, part.Length, false); err != nil {
		return err
	}
	return s.upload(ctx, tenant, part, msg, backendName)
}

// ValidatePayloadSize implements domain.PayloadPersistenceProvider.
func (s *GridFSStore) ValidatePayloadSize(leg *domain.LegConfiguration, length int64, async bool) error {
	return validateSize(leg, length, async)
}

// DeletePayloads removes the given payload objects by id.
func (s *GridFSStore) DeletePayloads(ctx context.Context, tenant domain.Tenant, fileNames []string) error {
	for _, name := range fileNames {
		if name == "" {
			continue
		}
		objID, err := primitive.ObjectIDFromHex(name)
		if err != nil {
			return fmt.Errorf("invalid payload object id %s: %w", name, err)
		}
		if err := s.bucket.Delete(objID); err != nil && err != gridfs.ErrFileNotFound {
			return fmt.Errorf("could not delete payload object %s: %w", name, err)
		}
	}
	s.logger.DebugContext(ctx, "Deleted payload objects", "tenant", tenant, "count", len(fileNames))
	return nil
}

// Close disconnects the MongoDB client.
func (s *GridFSStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *GridFSStore) upload(ctx context.Context, tenant domain.Tenant, part *domain.PartInfo, msg *domain.Message, backendName string) error {
	filename := fmt.Sprintf("%s/%s/%s", tenant, msg.MessageID, part.Href)
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"tenant":       tenant.String(),
		"message_id":   msg.MessageID,
		"href":         part.Href,
		"content_type": part.ContentType,
		"backend_name": backendName,
	})

	uploadStream, err := s.bucket.OpenUploadStream(filename, uploadOpts)
	if err != nil {
		return fmt.Errorf("opening upload stream: %w", err)
	}
	defer uploadStream.Close()

	if _, err := uploadStream.Write(part.Data); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}

	part.FileName = uploadStream.FileID.(primitive.ObjectID).Hex()
	part.Data = nil

	s.logger.DebugContext(ctx, "Stored payload", "tenant", tenant,
		"message_id", msg.MessageID, "href", part.Href, "object_id", part.FileName)
	return nil
}
