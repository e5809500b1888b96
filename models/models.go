package models

import (
	"time"
)

// ContentType discriminates the kinds of user-generated content that can be
// put through the moderation pipeline.
type ContentType string

const (
	ContentTypeTopic   = ContentType("topic")
	ContentTypeComment = ContentType("comment")
	ContentTypeReply   = ContentType("reply")
	ContentTypeImage   = ContentType("image")
	ContentTypeUser    = ContentType("user")
)

func (ct ContentType) Valid() bool {
	switch ct {
	case ContentTypeTopic, ContentTypeComment, ContentTypeReply, ContentTypeImage, ContentTypeUser:
		return true
	default:
		return false
	}
}

// ImageType selects the resize ladder an ingested image goes through.
type ImageType string

const (
	ImageTypeUserPhoto   = ImageType("user_photo")
	ImageTypeContentBlob = ImageType("content_blob")
	ImageTypeAppIcon     = ImageType("app_icon")
)

func (it ImageType) Valid() bool {
	switch it {
	case ImageTypeUserPhoto, ImageTypeContentBlob, ImageTypeAppIcon:
		return true
	default:
		return false
	}
}

// ReviewStatus is the tri-state visibility verdict attached to content and
// media. Content stays visible while Unknown; Rejected hides it and sticks.
type ReviewStatus string

const (
	ReviewStatusUnknown  = ReviewStatus("unknown")
	ReviewStatusActive   = ReviewStatus("active")
	ReviewStatusRejected = ReviewStatus("rejected")
)

// ProcessType tags an invocation as interactive, first background attempt,
// or retried background attempt. It never changes observable output, only
// retry/consistency policy.
type ProcessType int

const (
	ProcessFrontend = ProcessType(1)
	ProcessBackend  = ProcessType(2)
	// a retried invocation must tolerate partial effects of earlier attempts
	ProcessBackendRetry = ProcessType(3)
)

func (pt ProcessType) String() string {
	switch pt {
	case ProcessFrontend:
		return "frontend"
	case ProcessBackend:
		return "backend"
	case ProcessBackendRetry:
		return "backend-retry"
	default:
		return "<unknown>"
	}
}

func (pt ProcessType) IsRetry() bool {
	return pt == ProcessBackendRetry
}

// PlatformType identifies a push-notification platform.
type PlatformType string

const (
	PlatformAndroid = PlatformType("android")
	PlatformIOS     = PlatformType("ios")
	PlatformWindows = PlatformType("windows")
)

func (pt PlatformType) Valid() bool {
	switch pt {
	case PlatformAndroid, PlatformIOS, PlatformWindows:
		return true
	default:
		return false
	}
}

// ImageMetadata is the persisted record for one ingested original image.
// ResizesCompleted holds the single-character size ids already produced, in
// the order they completed. The moderation pipeline only ever touches
// ReviewStatus; the resize pipeline only ever touches ResizesCompleted.
type ImageMetadata struct {
	ID               uint   `gorm:"primarykey"`
	BlobHandle       string `gorm:"uniqueIndex;not null"`
	AppHandle        string `gorm:"index;not null"`
	UserHandle       string
	ImageType        ImageType `gorm:"not null"`
	ContentType      string
	ReviewStatus     ReviewStatus `gorm:"not null;default:unknown"`
	ResizesCompleted string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasResize reports whether the derived size tagged by id has been produced.
func (im *ImageMetadata) HasResize(id byte) bool {
	for i := 0; i < len(im.ResizesCompleted); i++ {
		if im.ResizesCompleted[i] == id {
			return true
		}
	}
	return false
}

// PushRegistration is a device push-notification registration. Re-registering
// supersedes the previous row for the same (user, app) rather than merging.
type PushRegistration struct {
	ID              uint   `gorm:"primarykey"`
	UserHandle      string `gorm:"index:idx_push_user_app,unique"`
	AppHandle       string `gorm:"index:idx_push_user_app,unique"`
	Platform        PlatformType
	RegistrationID  string
	Language        string
	LastUpdatedTime time.Time
}

// PushHub is a per (platform, app) notification hub with platform-specific
// credentials; SendNotification fans out through it fire-and-forget.
type PushHub struct {
	ID        uint         `gorm:"primarykey"`
	Platform  PlatformType `gorm:"index:idx_hub_platform_app,unique"`
	AppHandle string       `gorm:"index:idx_hub_platform_app,unique"`
	Path      string
	Key       string
	CreatedAt time.Time
}
