package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/perch-social/perch/models"

	"gorm.io/gorm"
)

func (s *Store) CreateImageMetadata(ctx context.Context, meta *models.ImageMetadata) error {
	if meta.BlobHandle == "" {
		return fmt.Errorf("%w: empty blob handle", models.ErrInvalidInput)
	}
	if !meta.ImageType.Valid() {
		return fmt.Errorf("%w: image type %q", models.ErrInvalidInput, meta.ImageType)
	}
	if meta.ReviewStatus == "" {
		meta.ReviewStatus = models.ReviewStatusUnknown
	}
	if err := s.db.WithContext(ctx).Create(meta).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: image metadata %s already exists", models.ErrConflict, meta.BlobHandle)
		}
		return err
	}
	return nil
}

func (s *Store) GetImageMetadata(ctx context.Context, blobHandle string) (*models.ImageMetadata, error) {
	var meta models.ImageMetadata
	if err := s.db.WithContext(ctx).First(&meta, "blob_handle = ?", blobHandle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: image metadata %s", models.ErrNotFound, blobHandle)
		}
		return nil, err
	}
	return &meta, nil
}

func (s *Store) DeleteImageMetadata(ctx context.Context, blobHandle string) error {
	res := s.db.WithContext(ctx).Where("blob_handle = ?", blobHandle).Delete(&models.ImageMetadata{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: image metadata %s", models.ErrNotFound, blobHandle)
	}
	return nil
}

func (s *Store) ImageMetadataExists(ctx context.Context, blobHandle string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ImageMetadata{}).Where("blob_handle = ?", blobHandle).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendResizeCompleted records one completed derived size in a single
// conditional write. Appending an id that is already present is a no-op, so
// fan-out retries are safe. Never touches ReviewStatus.
func (s *Store) AppendResizeCompleted(ctx context.Context, blobHandle string, sizeID byte) error {
	id := string(sizeID)
	res := s.db.WithContext(ctx).Model(&models.ImageMetadata{}).
		Where("blob_handle = ? AND resizes_completed NOT LIKE ?", blobHandle, "%"+id+"%").
		Update("resizes_completed", gorm.Expr("resizes_completed || ?", id))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// either the id was already recorded (fine) or the row is gone
		exists, err := s.ImageMetadataExists(ctx, blobHandle)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: image metadata %s", models.ErrNotFound, blobHandle)
		}
	}
	return nil
}

// UpdateImageReviewStatus applies a moderation verdict to an image. Rejected
// wins: once an image is Rejected, a stale or duplicate Active/Unknown
// verdict is silently suppressed. Never touches ResizesCompleted.
func (s *Store) UpdateImageReviewStatus(ctx context.Context, blobHandle string, status models.ReviewStatus) error {
	q := s.db.WithContext(ctx).Model(&models.ImageMetadata{}).
		Where("blob_handle = ?", blobHandle)
	if status != models.ReviewStatusRejected {
		q = q.Where("review_status <> ?", models.ReviewStatusRejected)
	}
	res := q.Update("review_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		exists, err := s.ImageMetadataExists(ctx, blobHandle)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: image metadata %s", models.ErrNotFound, blobHandle)
		}
		// suppressed by rejected-wins; treated as success
	}
	return nil
}
