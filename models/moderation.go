package models

import (
	"time"
)

// ModerationStatus is the lifecycle state of a ModerationRequest. The only
// legal transitions are Created -> Submitted -> ResultReceived.
type ModerationStatus string

const (
	ModerationStatusCreated        = ModerationStatus("created")
	ModerationStatusSubmitted      = ModerationStatus("submitted")
	ModerationStatusResultReceived = ModerationStatus("result_received")
)

// ModerationRequest tracks one submission of a content item to the external
// review provider. A content item may accumulate several requests over its
// lifetime (eg, resubmission after edit); visibility is computed across all
// of them, with any Rejected verdict winning.
type ModerationRequest struct {
	ID               uint        `gorm:"primarykey"`
	ModerationHandle string      `gorm:"uniqueIndex;not null"`
	AppHandle        string      `gorm:"index;not null"`
	ContentType      ContentType `gorm:"not null"`
	ContentHandle    string      `gorm:"index;not null"`
	CallbackURI      string
	Status           ModerationStatus `gorm:"not null;default:created"`
	ReviewStatus     ReviewStatus     `gorm:"not null;default:unknown"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Pending reports whether the request has not yet received a provider verdict.
func (mr *ModerationRequest) Pending() bool {
	return mr.Status != ModerationStatusResultReceived
}
