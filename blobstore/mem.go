package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/perch-social/perch/models"
)

// MemBlobstore is an in-memory Blobstore for tests and local development.
type MemBlobstore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemBlobstore() *MemBlobstore {
	return &MemBlobstore{
		blobs: make(map[string][]byte),
	}
}

var _ Blobstore = (*MemBlobstore)(nil)

func (m *MemBlobstore) PutBlob(ctx context.Context, handle string, mimeType string, r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[handle]; ok {
		return nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.blobs[handle] = b
	return nil
}

func (m *MemBlobstore) GetBlob(ctx context.Context, handle string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", models.ErrNotFound, handle)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemBlobstore) DeleteBlob(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, handle)
	return nil
}

func (m *MemBlobstore) HasBlob(ctx context.Context, handle string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[handle]
	return ok, nil
}

// Len reports the number of stored blobs; test helper.
func (m *MemBlobstore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
