package storage

import (
	"context"
	"io"
)

// ObjectStorage is the object store surface used for archiving submitted sources.
type ObjectStorage interface {
	// PutObject uploads sizeBytes read from reader under bucket/objectKey.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// EnsureBucket creates bucket when it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error
}
