package models

import (
	"time"

	"github.com/mybadgelife/internal/types"
)

// Ownership links a collector to a badge they own or want
type Ownership struct {
	UserID    string                `json:"userId" db:"user_id"`
	BadgeID   string                `json:"badgeId" db:"badge_id"`
	Status    types.OwnershipStatus `json:"status" db:"status"`
	CreatedAt time.Time             `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time             `json:"updatedAt" db:"updated_at"`
}

// CollectionItem is one entry of a collector's own/want list
type CollectionItem struct {
	Badge     *BadgeSummary         `json:"badge"`
	Status    types.OwnershipStatus `json:"status"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// OwnershipCounts totals own and want rows for a badge or a collector
type OwnershipCounts struct {
	Own  int `json:"own"`
	Want int `json:"want"`
}
