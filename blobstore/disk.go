package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/perch-social/perch/models"
)

// DiskBlobstore stores blobs as flat files under a root directory, sharded
// by the first two characters of the handle to keep directories small.
type DiskBlobstore struct {
	root string
}

func NewDiskBlobstore(root string) (*DiskBlobstore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating blobstore root: %w", err)
	}
	return &DiskBlobstore{root: root}, nil
}

var _ Blobstore = (*DiskBlobstore)(nil)

func (d *DiskBlobstore) path(handle string) string {
	shard := "00"
	if len(handle) >= 2 {
		shard = handle[:2]
	}
	return filepath.Join(d.root, shard, handle)
}

func (d *DiskBlobstore) PutBlob(ctx context.Context, handle string, mimeType string, r io.Reader) error {
	p := d.path(handle)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	// write to a temp file then rename, so partial writes never surface
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (d *DiskBlobstore) GetBlob(ctx context.Context, handle string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %s", models.ErrNotFound, handle)
		}
		return nil, err
	}
	return f, nil
}

func (d *DiskBlobstore) DeleteBlob(ctx context.Context, handle string) error {
	err := os.Remove(d.path(handle))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *DiskBlobstore) HasBlob(ctx context.Context, handle string) (bool, error) {
	_, err := os.Stat(d.path(handle))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
