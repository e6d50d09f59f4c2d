package models

import (
	"time"

	"github.com/mybadgelife/internal/types"
)

// Team is a group of makers that publishes badges together
type Team struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Website     string    `json:"website" db:"website"`
	CreatedBy   string    `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// TeamMember is a profile's membership in a team
type TeamMember struct {
	TeamID      string               `json:"teamId" db:"team_id"`
	UserID      string               `json:"userId" db:"user_id"`
	Username    *string              `json:"username" db:"username"`
	DisplayName string               `json:"displayName" db:"display_name"`
	Role        types.TeamMemberRole `json:"role" db:"role"`
	JoinedAt    time.Time            `json:"joinedAt" db:"joined_at"`
}

// TeamSummary is a team with its member count
type TeamSummary struct {
	*Team
	MemberCount int `json:"memberCount"`
}

// TeamDetail is a team with members and its badge count
type TeamDetail struct {
	*Team
	Members    []*TeamMember `json:"members"`
	BadgeCount int           `json:"badgeCount"`
}

// TeamRequest asks an admin to create a team or to join one
type TeamRequest struct {
	ID         string                `json:"id" db:"id"`
	UserID     string                `json:"userId" db:"user_id"`
	Kind       types.TeamRequestKind `json:"kind" db:"kind"`
	TeamID     *string               `json:"teamId,omitempty" db:"team_id"`
	TeamName   string                `json:"teamName,omitempty" db:"team_name"`
	Message    string                `json:"message" db:"message"`
	Status     types.ReviewStatus    `json:"status" db:"status"`
	ReviewedBy *string               `json:"reviewedBy,omitempty" db:"reviewed_by"`
	ReviewNote string                `json:"reviewNote,omitempty" db:"review_note"`
	ReviewedAt *time.Time            `json:"reviewedAt,omitempty" db:"reviewed_at"`
	CreatedAt  time.Time             `json:"createdAt" db:"created_at"`
}

// TeamRequestInput is the body of a team request
type TeamRequestInput struct {
	Kind     types.TeamRequestKind `json:"kind"`
	TeamID   *string               `json:"teamId,omitempty"`
	TeamName string                `json:"teamName,omitempty"`
	Message  string                `json:"message"`
}
