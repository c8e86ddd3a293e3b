package deadletter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/atriumdigital/spliosync/internal/config"
)

type mockS3Client struct {
	bucket string
	key    string
	data   []byte
}

func (m *mockS3Client) PutObject(_ context.Context, bucket, objectName string, data []byte) error {
	m.bucket = bucket
	m.key = objectName
	m.data = data
	return nil
}

func TestS3Archiver_Archive(t *testing.T) {
	mock := &mockS3Client{}
	a := &S3Archiver{client: mock, bucket: "dead-letters"}

	entry := Entry{
		ItemID:   "01HV0000000000000000000000",
		Payload:  []byte(`{"id":"a@example.com"}`),
		Attempts: 3,
		Reason:   "status 404",
		FailedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
	if err := a.Archive(context.Background(), entry); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if mock.bucket != "dead-letters" {
		t.Errorf("bucket = %s", mock.bucket)
	}
	if mock.key != "2026-08-28/01HV0000000000000000000000.json" {
		t.Errorf("object key = %s", mock.key)
	}

	var decoded Entry
	if err := json.Unmarshal(mock.data, &decoded); err != nil {
		t.Fatalf("archived entry is not JSON: %v", err)
	}
	if decoded.Reason != "status 404" || decoded.Attempts != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestNewArchiver_EmptyBucketIsNoop(t *testing.T) {
	a, err := NewArchiver(config.DeadLetterConfig{})
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}
	if _, ok := a.(*NoopArchiver); !ok {
		t.Errorf("got %T, want NoopArchiver", a)
	}
	if err := a.Archive(context.Background(), Entry{}); err != nil {
		t.Errorf("noop Archive: %v", err)
	}
}
