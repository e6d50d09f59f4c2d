// Package models provides data models for the MyBadgeLife catalog.
package models

import (
	"time"

	"github.com/mybadgelife/internal/types"
)

// Profile represents a signed-in member. ID is the hosted-auth subject.
type Profile struct {
	ID               string            `json:"id" db:"id"`
	Email            string            `json:"email,omitempty" db:"email"`
	Username         *string           `json:"username" db:"username"`
	DisplayName      string            `json:"displayName" db:"display_name"`
	AvatarURL        string            `json:"avatarUrl" db:"avatar_url"`
	Bio              string            `json:"bio" db:"bio"`
	Website          string            `json:"website" db:"website"`
	Role             types.Role        `json:"role" db:"role"`
	MakerStatus      types.MakerStatus `json:"makerStatus" db:"maker_status"`
	MakerRequestNote string            `json:"makerRequestNote,omitempty" db:"maker_request_note"`
	IsBanned         bool              `json:"isBanned" db:"is_banned"`
	CreatedAt        time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time         `json:"updatedAt" db:"updated_at"`
}

// IsAdmin reports whether the profile has the admin role
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == types.RoleAdmin
}

// CanCreateBadges reports whether the profile may submit badges directly
func (p *Profile) CanCreateBadges() bool {
	return p != nil && (p.Role == types.RoleMaker || p.Role == types.RoleAdmin)
}

// PublicProfile is the view of a profile shown to other members
type PublicProfile struct {
	ID          string     `json:"id"`
	Username    *string    `json:"username"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl"`
	Bio         string     `json:"bio"`
	Website     string     `json:"website"`
	Role        types.Role `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Public strips private fields from the profile
func (p *Profile) Public() *PublicProfile {
	return &PublicProfile{
		ID:          p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Bio:         p.Bio,
		Website:     p.Website,
		Role:        p.Role,
		CreatedAt:   p.CreatedAt,
	}
}

// ProfilePatch holds the editable profile fields; nil means unchanged
type ProfilePatch struct {
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	Website     *string `json:"website,omitempty"`
}

// ProfileFilter narrows the admin user listing
type ProfileFilter struct {
	Query       string            `json:"query,omitempty"`
	Role        types.Role        `json:"role,omitempty"`
	MakerStatus types.MakerStatus `json:"makerStatus,omitempty"`
	types.Pagination
}

// ProfileList is a page of profiles
type ProfileList struct {
	Items []*Profile `json:"items"`
	Total int        `json:"total"`
}

// PublicProfileDetail is a member's public page with their collection counts
type PublicProfileDetail struct {
	Profile   *PublicProfile `json:"profile"`
	OwnCount  int            `json:"ownCount"`
	WantCount int            `json:"wantCount"`
}
