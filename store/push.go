package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perch-social/perch/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertPushRegistration supersedes any existing registration for the same
// (user, app) pair; registrations are never merged.
func (s *Store) UpsertPushRegistration(ctx context.Context, reg *models.PushRegistration) error {
	if reg.UserHandle == "" || reg.AppHandle == "" {
		return fmt.Errorf("%w: empty handle on push registration", models.ErrInvalidInput)
	}
	if !reg.Platform.Valid() {
		return fmt.Errorf("%w: platform %q", models.ErrInvalidInput, reg.Platform)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_handle"}, {Name: "app_handle"}},
		UpdateAll: true,
	}).Create(reg).Error
}

func (s *Store) GetPushRegistration(ctx context.Context, userHandle, appHandle string) (*models.PushRegistration, error) {
	var reg models.PushRegistration
	if err := s.db.WithContext(ctx).First(&reg, "user_handle = ? AND app_handle = ?", userHandle, appHandle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: push registration %s/%s", models.ErrNotFound, userHandle, appHandle)
		}
		return nil, err
	}
	return &reg, nil
}

func (s *Store) DeletePushRegistration(ctx context.Context, userHandle, appHandle string) error {
	res := s.db.WithContext(ctx).Where("user_handle = ? AND app_handle = ?", userHandle, appHandle).Delete(&models.PushRegistration{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: push registration %s/%s", models.ErrNotFound, userHandle, appHandle)
	}
	return nil
}

// ListStalePushRegistrations returns registrations last updated before the
// given time, for cleanup sweeps.
func (s *Store) ListStalePushRegistrations(ctx context.Context, before time.Time, limit int) ([]models.PushRegistration, error) {
	if limit <= 0 {
		limit = 100
	}
	var regs []models.PushRegistration
	if err := s.db.WithContext(ctx).Order("last_updated_time asc").Limit(limit).Find(&regs, "last_updated_time < ?", before).Error; err != nil {
		return nil, err
	}
	return regs, nil
}

func (s *Store) CreatePushHub(ctx context.Context, hub *models.PushHub) error {
	if !hub.Platform.Valid() {
		return fmt.Errorf("%w: platform %q", models.ErrInvalidInput, hub.Platform)
	}
	if err := s.db.WithContext(ctx).Create(hub).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: push hub %s/%s already exists", models.ErrConflict, hub.Platform, hub.AppHandle)
		}
		return err
	}
	return nil
}

func (s *Store) GetPushHub(ctx context.Context, platform models.PlatformType, appHandle string) (*models.PushHub, error) {
	var hub models.PushHub
	if err := s.db.WithContext(ctx).First(&hub, "platform = ? AND app_handle = ?", platform, appHandle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: push hub %s/%s", models.ErrNotFound, platform, appHandle)
		}
		return nil, err
	}
	return &hub, nil
}

func (s *Store) DeletePushHub(ctx context.Context, platform models.PlatformType, appHandle string) error {
	res := s.db.WithContext(ctx).Where("platform = ? AND app_handle = ?", platform, appHandle).Delete(&models.PushHub{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: push hub %s/%s", models.ErrNotFound, platform, appHandle)
	}
	return nil
}
