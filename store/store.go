package store

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/perch-social/perch/models"

	"gorm.io/gorm"
)

// Store is the single sanctioned path to durable entity state. All writes to
// a given handle go through the underlying database's per-row atomicity; the
// conditional-update helpers below implement the pipeline's compare-and-swap
// discipline instead of client-side locks.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.ModerationRequest{}); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.ImageMetadata{}); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.BlobMetadata{}); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.PushRegistration{}); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.PushHub{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateModerationRequest(ctx context.Context, req *models.ModerationRequest) error {
	if req.ModerationHandle == "" || req.ContentHandle == "" {
		return fmt.Errorf("%w: empty handle on moderation request", models.ErrInvalidInput)
	}
	if !req.ContentType.Valid() {
		return fmt.Errorf("%w: content type %q", models.ErrInvalidInput, req.ContentType)
	}
	if req.Status == "" {
		req.Status = models.ModerationStatusCreated
	}
	if req.ReviewStatus == "" {
		req.ReviewStatus = models.ReviewStatusUnknown
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: moderation request %s already exists", models.ErrConflict, req.ModerationHandle)
		}
		return err
	}
	return nil
}

func (s *Store) GetModerationRequest(ctx context.Context, moderationHandle string) (*models.ModerationRequest, error) {
	var req models.ModerationRequest
	if err := s.db.WithContext(ctx).First(&req, "moderation_handle = ?", moderationHandle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: moderation request %s", models.ErrNotFound, moderationHandle)
		}
		return nil, err
	}
	return &req, nil
}

// TransitionModerationRequest moves a request from one lifecycle status to
// another, optionally recording a review verdict, only if the request is
// currently in the expected status. Returns ErrConflict if the request exists
// but is not in that status (eg, a replayed callback), ErrNotFound if absent.
func (s *Store) TransitionModerationRequest(ctx context.Context, moderationHandle string, from, to models.ModerationStatus, verdict *models.ReviewStatus) error {
	updates := map[string]any{"status": to}
	if verdict != nil {
		updates["review_status"] = *verdict
	}
	res := s.db.WithContext(ctx).Model(&models.ModerationRequest{}).
		Where("moderation_handle = ? AND status = ?", moderationHandle, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetModerationRequest(ctx, moderationHandle); err != nil {
			return err
		}
		return fmt.Errorf("%w: moderation request %s not in status %s", models.ErrConflict, moderationHandle, from)
	}
	return nil
}

// ListModerationRequestsForContent returns every request ever created for a
// content handle, newest first. Visibility is computed across the whole set.
func (s *Store) ListModerationRequestsForContent(ctx context.Context, contentHandle string) ([]models.ModerationRequest, error) {
	var reqs []models.ModerationRequest
	if err := s.db.WithContext(ctx).Order("id desc").Find(&reqs, "content_handle = ?", contentHandle).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// ListModerationRequests is a paginated feed read over an app's moderation
// requests, newest first. The returned cursor is opaque and forward-only;
// pass it back to fetch the next page, empty cursor starts from the top.
func (s *Store) ListModerationRequests(ctx context.Context, appHandle, cursor string, limit int) ([]models.ModerationRequest, string, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id desc").Limit(limit).Where("app_handle = ?", appHandle)
	if cursor != "" {
		lastID, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad cursor", models.ErrInvalidInput)
		}
		q = q.Where("id < ?", lastID)
	}
	var reqs []models.ModerationRequest
	if err := q.Find(&reqs).Error; err != nil {
		return nil, "", err
	}
	var next string
	if len(reqs) == limit {
		next = encodeCursor(reqs[len(reqs)-1].ID)
	}
	return reqs, next, nil
}

// CountByStatus reports how many of an app's moderation requests sit in one
// lifecycle status. Counts are nullable: nil means the app has never created
// a request, which callers must keep distinct from an explicit zero.
func (s *Store) CountByStatus(ctx context.Context, appHandle string, status models.ModerationStatus) (*int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.ModerationRequest{}).
		Where("app_handle = ?", appHandle).Count(&total).Error; err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ModerationRequest{}).
		Where("app_handle = ? AND status = ?", appHandle, status).Count(&count).Error; err != nil {
		return nil, err
	}
	return &count, nil
}

var cursorEnc = base32.StdEncoding.WithPadding(base32.NoPadding)

func encodeCursor(id uint) string {
	return cursorEnc.EncodeToString([]byte(strconv.FormatUint(uint64(id), 10)))
}

func decodeCursor(cursor string) (uint, error) {
	b, err := cursorEnc.DecodeString(strings.ToUpper(cursor))
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
