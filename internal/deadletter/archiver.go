// Package deadletter archives permanently failed sync tasks to
// S3-compatible storage for later inspection and replay. When S3 is not
// configured (empty bucket), the NoopArchiver is used and failed tasks
// are only logged.
package deadletter

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/atriumdigital/spliosync/internal/config"
)

// Entry is one archived failure: the task payload as it sat in the
// queue plus the failure that retired it.
type Entry struct {
	ItemID   string    `json:"item_id"`
	Payload  []byte    `json:"payload"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Archiver stores dead-lettered queue items.
type Archiver interface {
	Archive(ctx context.Context, entry Entry) error
}

// s3Client defines the minimal minio.Client operation used by
// S3Archiver. This interface enables testing with mock implementations.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, data []byte) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client
// interface with our simplified signature.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, data []byte) error {
	opts := minio.PutObjectOptions{
		ContentType: "application/json",
	}
	_, err := w.client.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

// S3Archiver writes failed tasks to S3-compatible storage.
type S3Archiver struct {
	client s3Client
	bucket string
}

// Archive stores one entry under a timestamped object key.
func (a *S3Archiver) Archive(ctx context.Context, entry Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := a.client.PutObject(ctx, a.bucket, objectKey(entry), data); err != nil {
		return fmt.Errorf("archive dead-lettered task: %w", err)
	}
	return nil
}

// NoopArchiver is used when S3 storage is not configured.
type NoopArchiver struct{}

// Archive is a no-op when S3 is not configured.
func (a *NoopArchiver) Archive(ctx context.Context, entry Entry) error {
	return nil
}

// NewArchiver creates the appropriate Archiver based on configuration.
// Returns NoopArchiver when bucket is empty, S3Archiver otherwise.
func NewArchiver(cfg config.DeadLetterConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return &NoopArchiver{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// objectKey returns the object key for a failed task.
// Convention: {yyyy-mm-dd}/{item_id}.json
func objectKey(entry Entry) string {
	return entry.FailedAt.UTC().Format("2006-01-02") + "/" + entry.ItemID + ".json"
}
