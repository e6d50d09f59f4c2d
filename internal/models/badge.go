package models

import (
	"time"

	"github.com/mybadgelife/internal/types"
)

// Badge represents an electronic conference badge in the catalog
type Badge struct {
	ID          string             `json:"id" db:"id"`
	Name        string             `json:"name" db:"name"`
	Description string             `json:"description" db:"description"`
	EventName   string             `json:"eventName" db:"event_name"`
	Year        *int               `json:"year,omitempty" db:"year"`
	MakerID     *string            `json:"makerId,omitempty" db:"maker_id"`
	TeamID      *string            `json:"teamId,omitempty" db:"team_id"`
	Category    string             `json:"category" db:"category"`
	Status      types.ReviewStatus `json:"status" db:"status"`
	CreatedBy   string             `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time          `json:"updatedAt" db:"updated_at"`
}

// ManagedBy reports whether userID is the badge's maker or creator
func (b *Badge) ManagedBy(userID string) bool {
	if b == nil || userID == "" {
		return false
	}
	if b.CreatedBy == userID {
		return true
	}
	return b.MakerID != nil && *b.MakerID == userID
}

// BadgeImage is one stored photo of a badge
type BadgeImage struct {
	ID         string    `json:"id" db:"id"`
	BadgeID    string    `json:"badgeId" db:"badge_id"`
	StorageKey string    `json:"-" db:"storage_key"`
	URL        string    `json:"url" db:"url"`
	IsPrimary  bool      `json:"isPrimary" db:"is_primary"`
	UploadedBy string    `json:"uploadedBy" db:"uploaded_by"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// BadgeSummary is the compact badge shape used in lists and match results
type BadgeSummary struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	EventName       string             `json:"eventName"`
	Year            *int               `json:"year,omitempty"`
	Category        string             `json:"category"`
	Status          types.ReviewStatus `json:"status"`
	PrimaryImageURL *string            `json:"primaryImageUrl"`
}

// BadgeDetail is a badge with images and ownership counts
type BadgeDetail struct {
	*Badge
	Images       []*BadgeImage          `json:"images"`
	OwnCount     int                    `json:"ownCount"`
	WantCount    int                    `json:"wantCount"`
	ViewerStatus *types.OwnershipStatus `json:"viewerStatus"`
}

// BadgeFilter narrows a badge listing
type BadgeFilter struct {
	Query     string             `json:"query,omitempty"`
	EventName string             `json:"eventName,omitempty"`
	Year      *int               `json:"year,omitempty"`
	MakerID   string             `json:"makerId,omitempty"`
	TeamID    string             `json:"teamId,omitempty"`
	Category  string             `json:"category,omitempty"`
	Status    types.ReviewStatus `json:"status,omitempty"`
	types.Pagination
}

// BadgeList is a page of badges
type BadgeList struct {
	Items  []*BadgeSummary `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// BadgeInput holds the fields for a new badge
type BadgeInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	EventName   string  `json:"eventName"`
	Year        *int    `json:"year,omitempty"`
	MakerID     *string `json:"makerId,omitempty"`
	TeamID      *string `json:"teamId,omitempty"`
	Category    string  `json:"category"`
}

// BadgePatch holds editable badge fields; nil means unchanged
type BadgePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	EventName   *string `json:"eventName,omitempty"`
	Year        *int    `json:"year,omitempty"`
	TeamID      *string `json:"teamId,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// Apply copies the non-nil patch fields onto b
func (p *BadgePatch) Apply(b *Badge) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.EventName != nil {
		b.EventName = *p.EventName
	}
	if p.Year != nil {
		b.Year = p.Year
	}
	if p.TeamID != nil {
		if *p.TeamID == "" {
			b.TeamID = nil
		} else {
			b.TeamID = p.TeamID
		}
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
}
