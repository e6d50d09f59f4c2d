package models

import (
	"time"

	"github.com/mybadgelife/internal/types"
)

// Upload is a community photo submission awaiting moderation
type Upload struct {
	ID            string             `json:"id" db:"id"`
	UserID        string             `json:"userId" db:"user_id"`
	StorageKey    string             `json:"-" db:"storage_key"`
	URL           string             `json:"url" db:"url"`
	BadgeID       *string            `json:"badgeId" db:"badge_id"`
	SuggestedName string             `json:"suggestedName" db:"suggested_name"`
	Notes         string             `json:"notes" db:"notes"`
	Status        types.ReviewStatus `json:"status" db:"status"`
	ReviewedBy    *string            `json:"reviewedBy,omitempty" db:"reviewed_by"`
	ReviewNote    string             `json:"reviewNote,omitempty" db:"review_note"`
	ReviewedAt    *time.Time         `json:"reviewedAt,omitempty" db:"reviewed_at"`
	CreatedAt     time.Time          `json:"createdAt" db:"created_at"`
}

// UploadInput describes a new submission; the image bytes travel separately
type UploadInput struct {
	BadgeID       *string `json:"badgeId,omitempty"`
	SuggestedName string  `json:"suggestedName"`
	Notes         string  `json:"notes"`
}

// ApproveUploadInput attaches an approved upload to an existing badge or
// creates a new one from NewBadge. Exactly one must be set.
type ApproveUploadInput struct {
	BadgeID  *string     `json:"badgeId,omitempty"`
	NewBadge *BadgeInput `json:"newBadge,omitempty"`
	Note     string      `json:"note,omitempty"`
}

// UploadApproval is the outcome of approving an upload
type UploadApproval struct {
	Upload *Upload     `json:"upload"`
	Badge  *Badge      `json:"badge"`
	Image  *BadgeImage `json:"image"`
}
