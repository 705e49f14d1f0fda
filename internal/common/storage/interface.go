package storage

import (
	"context"
	"io"
)

// ObjectStorage is the write side of the object store used for source archives.
type ObjectStorage interface {
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error
}
