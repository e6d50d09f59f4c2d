package models

import "time"

// EmailPreferences holds a member's notification opt-ins
type EmailPreferences struct {
	UserID            string    `json:"userId" db:"user_id"`
	NewBadges         bool      `json:"newBadges" db:"new_badges"`
	OwnershipUpdates  bool      `json:"ownershipUpdates" db:"ownership_updates"`
	ModerationUpdates bool      `json:"moderationUpdates" db:"moderation_updates"`
	Newsletter        bool      `json:"newsletter" db:"newsletter"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// DefaultEmailPreferences returns the preferences a member starts with
func DefaultEmailPreferences(userID string) *EmailPreferences {
	return &EmailPreferences{
		UserID:            userID,
		NewBadges:         true,
		OwnershipUpdates:  true,
		ModerationUpdates: true,
		Newsletter:        false,
	}
}

// EmailPreferencesPatch holds changed opt-ins; nil means unchanged
type EmailPreferencesPatch struct {
	NewBadges         *bool `json:"newBadges,omitempty"`
	OwnershipUpdates  *bool `json:"ownershipUpdates,omitempty"`
	ModerationUpdates *bool `json:"moderationUpdates,omitempty"`
	Newsletter        *bool `json:"newsletter,omitempty"`
}

// Apply copies the non-nil patch fields onto p
func (patch *EmailPreferencesPatch) Apply(p *EmailPreferences) {
	if patch.NewBadges != nil {
		p.NewBadges = *patch.NewBadges
	}
	if patch.OwnershipUpdates != nil {
		p.OwnershipUpdates = *patch.OwnershipUpdates
	}
	if patch.ModerationUpdates != nil {
		p.ModerationUpdates = *patch.ModerationUpdates
	}
	if patch.Newsletter != nil {
		p.Newsletter = *patch.Newsletter
	}
}
