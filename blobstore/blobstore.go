package blobstore

import (
	"context"
	"io"
)

// Blobstore is content-addressable binary storage keyed by an opaque handle.
// It does not understand image formats or any other payload semantics.
//
// PutBlob of a handle that already exists must succeed without rewriting:
// the resize fan-out derives child handles deterministically and retries the
// whole operation after a crash, so "already exists" is a success condition.
type Blobstore interface {
	PutBlob(ctx context.Context, handle string, mimeType string, r io.Reader) error
	GetBlob(ctx context.Context, handle string) (io.ReadCloser, error)
	DeleteBlob(ctx context.Context, handle string) error
	HasBlob(ctx context.Context, handle string) (bool, error)
}
