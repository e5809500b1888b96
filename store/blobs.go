package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/perch-social/perch/models"

	"gorm.io/gorm"
)

func (s *Store) CreateBlobMetadata(ctx context.Context, meta *models.BlobMetadata) error {
	if meta.BlobHandle == "" {
		return fmt.Errorf("%w: empty blob handle", models.ErrInvalidInput)
	}
	if err := s.db.WithContext(ctx).Create(meta).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: blob metadata %s already exists", models.ErrConflict, meta.BlobHandle)
		}
		return err
	}
	return nil
}

func (s *Store) GetBlobMetadata(ctx context.Context, blobHandle string) (*models.BlobMetadata, error) {
	var meta models.BlobMetadata
	if err := s.db.WithContext(ctx).First(&meta, "blob_handle = ?", blobHandle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: blob metadata %s", models.ErrNotFound, blobHandle)
		}
		return nil, err
	}
	return &meta, nil
}

func (s *Store) DeleteBlobMetadata(ctx context.Context, blobHandle string) error {
	res := s.db.WithContext(ctx).Where("blob_handle = ?", blobHandle).Delete(&models.BlobMetadata{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: blob metadata %s", models.ErrNotFound, blobHandle)
	}
	return nil
}

func (s *Store) BlobMetadataExists(ctx context.Context, blobHandle string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.BlobMetadata{}).Where("blob_handle = ?", blobHandle).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
