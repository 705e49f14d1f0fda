// Package archive stores graded source code in object storage, zstd-compressed.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"judgeflow/internal/common/storage"
	appErr "judgeflow/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const contentType = "application/zstd"

// Archiver writes submission sources. Reads go through the submissions table.
type Archiver struct {
	store   storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
}

// New creates an Archiver writing into bucket.
func New(store storage.ObjectStorage, bucket string) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	return &Archiver{store: store, bucket: bucket, encoder: encoder}, nil
}

// ObjectKey returns the object key of a submission's source.
func ObjectKey(submissionID string) string {
	return "submissions/" + submissionID + "/source.zst"
}

// Save compresses source and uploads it. It returns the object key.
func (a *Archiver) Save(ctx context.Context, submissionID, source string) (string, error) {
	if submissionID == "" {
		return "", appErr.ValidationError("submissionId", "required")
	}
	key := ObjectKey(submissionID)
	payload := a.encoder.EncodeAll([]byte(source), nil)
	if err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), contentType); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "upload source failed")
	}
	return key, nil
}

// Close releases the encoder.
func (a *Archiver) Close() error {
	return a.encoder.Close()
}
