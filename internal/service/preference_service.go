package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
)

// PreferenceRepository interface for email preference data operations
type PreferenceRepository interface {
	Get(ctx context.Context, userID string) (*models.EmailPreferences, error)
	Upsert(ctx context.Context, p *models.EmailPreferences) error
}

// PreferenceService handles members' email opt-ins
type PreferenceService struct {
	prefs PreferenceRepository
}

// NewPreferenceService creates a new preference service
func NewPreferenceService(prefs PreferenceRepository) *PreferenceService {
	return &PreferenceService{prefs: prefs}
}

// GetPreferences returns the actor's preferences, or the defaults if none are stored
func (s *PreferenceService) GetPreferences(ctx context.Context, actor *models.Profile) (*models.EmailPreferences, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	p, err := s.prefs.Get(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.DefaultEmailPreferences(actor.ID), nil
		}
		return nil, fmt.Errorf("failed to get email preferences: %w", err)
	}
	return p, nil
}

// UpdatePreferences applies a patch over the current preferences and saves them
func (s *PreferenceService) UpdatePreferences(ctx context.Context, actor *models.Profile, patch *models.EmailPreferencesPatch) (*models.EmailPreferences, error) {
	if patch == nil {
		return nil, invalidInput("request body is required")
	}
	p, err := s.GetPreferences(ctx, actor)
	if err != nil {
		return nil, err
	}
	patch.Apply(p)
	if err := s.prefs.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save email preferences: %w", err)
	}
	return p, nil
}
