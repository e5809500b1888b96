package models

import (
	"time"
)

// BlobMetadata is the persisted record for a plain (non-image) blob. Blobs
// skip the resize fan-out and moderation enqueue that images get.
type BlobMetadata struct {
	ID          uint   `gorm:"primarykey"`
	BlobHandle  string `gorm:"uniqueIndex;not null"`
	AppHandle   string `gorm:"index;not null"`
	UserHandle  string
	ContentType string
	CreatedAt   time.Time
}
