package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mybadgelife/internal/models"
)

// EmailPreferenceRepository handles notification opt-in persistence
type EmailPreferenceRepository struct {
	db *PostgresDB
}

// NewEmailPreferenceRepository creates a new email preference repository
func NewEmailPreferenceRepository(db *PostgresDB) *EmailPreferenceRepository {
	return &EmailPreferenceRepository{db: db}
}

// Get returns a member's stored preferences
func (r *EmailPreferenceRepository) Get(ctx context.Context, userID string) (*models.EmailPreferences, error) {
	query := `
		SELECT user_id, new_badges, ownership_updates, moderation_updates, newsletter, updated_at
		FROM email_preferences WHERE user_id = $1
	`
	var p models.EmailPreferences
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.NewBadges,
		&p.OwnershipUpdates,
		&p.ModerationUpdates,
		&p.Newsletter,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("email preferences %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get email preferences: %w", err)
	}
	return &p, nil
}

// Upsert writes a member's preferences
func (r *EmailPreferenceRepository) Upsert(ctx context.Context, p *models.EmailPreferences) error {
	p.UpdatedAt = time.Now()

	query := `
		INSERT INTO email_preferences (user_id, new_badges, ownership_updates, moderation_updates, newsletter, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
			SET new_badges = EXCLUDED.new_badges,
				ownership_updates = EXCLUDED.ownership_updates,
				moderation_updates = EXCLUDED.moderation_updates,
				newsletter = EXCLUDED.newsletter,
				updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool().Exec(ctx, query,
		p.UserID,
		p.NewBadges,
		p.OwnershipUpdates,
		p.ModerationUpdates,
		p.Newsletter,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save email preferences: %w", translatePgError(err))
	}
	return nil
}
