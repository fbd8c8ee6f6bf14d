package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"codearena/internal/common/storage"
	appErr "codearena/pkg/errors"
)

const archiveContentType = "application/zstd"

// SourceArchive keeps zstd-compressed copies of submitted code in object storage.
type SourceArchive struct {
	store  storage.ObjectStorage
	bucket string
}

func NewSourceArchive(store storage.ObjectStorage, bucket string) *SourceArchive {
	if bucket == "" {
		bucket = "submissions"
	}
	return &SourceArchive{store: store, bucket: bucket}
}

// ObjectKey is the storage key of one participant's final submission.
func ObjectKey(roomID, userID, language string) string {
	return fmt.Sprintf("rooms/%s/%s.%s.zst", roomID, userID, language)
}

func (a *SourceArchive) Ensure(ctx context.Context) error {
	if err := a.store.EnsureBucket(ctx, a.bucket); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "ensure archive bucket")
	}
	return nil
}

// Put compresses source and uploads it, returning the object key.
func (a *SourceArchive) Put(ctx context.Context, roomID, userID, language, source string) (string, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "create zstd writer")
	}
	if _, err := io.WriteString(enc, source); err != nil {
		_ = enc.Close()
		return "", appErr.Wrapf(err, appErr.StorageError, "compress source")
	}
	if err := enc.Close(); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "compress source")
	}

	key := ObjectKey(roomID, userID, language)
	if err := a.store.PutObject(ctx, a.bucket, key, &buf, int64(buf.Len()), archiveContentType); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "upload source")
	}
	return key, nil
}
