package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

// OwnershipRepository handles own/want persistence
type OwnershipRepository struct {
	db *PostgresDB
}

// NewOwnershipRepository creates a new ownership repository
func NewOwnershipRepository(db *PostgresDB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

// Upsert sets the collector's status for a badge. A user has at most one
// row per badge, so marking a wanted badge as owned replaces the want.
func (r *OwnershipRepository) Upsert(ctx context.Context, userID, badgeID string, status types.OwnershipStatus) (*models.Ownership, error) {
	query := `
		INSERT INTO ownerships (user_id, badge_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id, badge_id) DO UPDATE
			SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING user_id, badge_id, status, created_at, updated_at
	`

	var o models.Ownership
	err := r.db.Pool().QueryRow(ctx, query, userID, badgeID, status).Scan(
		&o.UserID,
		&o.BadgeID,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set ownership: %w", translatePgError(err))
	}
	return &o, nil
}

// Get returns the collector's status for a badge
func (r *OwnershipRepository) Get(ctx context.Context, userID, badgeID string) (*models.Ownership, error) {
	query := `
		SELECT user_id, badge_id, status, created_at, updated_at
		FROM ownerships WHERE user_id = $1 AND badge_id = $2
	`

	var o models.Ownership
	err := r.db.Pool().QueryRow(ctx, query, userID, badgeID).Scan(
		&o.UserID,
		&o.BadgeID,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ownership: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get ownership: %w", err)
	}
	return &o, nil
}

// Delete clears the collector's status for a badge
func (r *OwnershipRepository) Delete(ctx context.Context, userID, badgeID string) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM ownerships WHERE user_id = $1 AND badge_id = $2`, userID, badgeID)
	if err != nil {
		return fmt.Errorf("failed to clear ownership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("ownership: %w", ErrNotFound)
	}
	return nil
}

// ListByUser returns the collector's badges, optionally filtered by status
func (r *OwnershipRepository) ListByUser(ctx context.Context, userID string, status *types.OwnershipStatus) ([]*models.CollectionItem, error) {
	var w whereBuilder
	w.add("o.user_id = ?", userID)
	if status != nil {
		w.add("o.status = ?", *status)
	}

	query := `
		SELECT ` + badgeSummaryColumns + `, o.status, o.updated_at
		FROM ownerships o
		JOIN badges b ON b.id = o.badge_id
		` + primaryImageJoin + `
		` + w.sql() + `
		ORDER BY o.updated_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}
	defer rows.Close()

	items := make([]*models.CollectionItem, 0)
	for rows.Next() {
		var s models.BadgeSummary
		var item models.CollectionItem
		err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.EventName,
			&s.Year,
			&s.Category,
			&s.Status,
			&s.PrimaryImageURL,
			&item.Status,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection item: %w", err)
		}
		item.Badge = &s
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collection: %w", err)
	}
	return items, nil
}

// CountsForBadge totals own and want rows for a badge
func (r *OwnershipRepository) CountsForBadge(ctx context.Context, badgeID string) (*models.OwnershipCounts, error) {
	return r.counts(ctx, `badge_id = $1`, badgeID)
}

// CountsForUser totals a collector's own and want rows
func (r *OwnershipRepository) CountsForUser(ctx context.Context, userID string) (*models.OwnershipCounts, error) {
	return r.counts(ctx, `user_id = $1`, userID)
}

func (r *OwnershipRepository) counts(ctx context.Context, cond string, arg string) (*models.OwnershipCounts, error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE status = 'own'), COUNT(*) FILTER (WHERE status = 'want')
		FROM ownerships WHERE ` + cond

	var c models.OwnershipCounts
	if err := r.db.Pool().QueryRow(ctx, query, arg).Scan(&c.Own, &c.Want); err != nil {
		return nil, fmt.Errorf("failed to count ownerships: %w", err)
	}
	return &c, nil
}
