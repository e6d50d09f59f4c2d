package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mybadgelife/internal/models"
)

const imageColumns = `id, badge_id, storage_key, url, is_primary, COALESCE(uploaded_by::text, ''), created_at`

// BadgeImageRepository handles badge image persistence
type BadgeImageRepository struct {
	db *PostgresDB
}

// NewBadgeImageRepository creates a new badge image repository
func NewBadgeImageRepository(db *PostgresDB) *BadgeImageRepository {
	return &BadgeImageRepository{db: db}
}

func scanImage(row pgx.Row) (*models.BadgeImage, error) {
	var img models.BadgeImage
	err := row.Scan(
		&img.ID,
		&img.BadgeID,
		&img.StorageKey,
		&img.URL,
		&img.IsPrimary,
		&img.UploadedBy,
		&img.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// lockBadge takes the badge row lock that serializes primary image changes
func lockBadge(ctx context.Context, tx pgx.Tx, badgeID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM badges WHERE id = $1 FOR UPDATE`, badgeID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("badge %s: %w", badgeID, ErrReferenceMissing)
		}
		return fmt.Errorf("failed to lock badge: %w", translatePgError(err))
	}
	return nil
}

// insertImage adds an image; it becomes primary when the badge has none yet.
// The caller must hold the badge lock.
func insertImage(ctx context.Context, q querier, img *models.BadgeImage) error {
	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	img.CreatedAt = time.Now()

	var uploadedBy *string
	if img.UploadedBy != "" {
		uploadedBy = &img.UploadedBy
	}

	query := `
		INSERT INTO badge_images (id, badge_id, storage_key, url, is_primary, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4,
			NOT EXISTS (SELECT 1 FROM badge_images WHERE badge_id = $2 AND is_primary),
			$5, $6)
		RETURNING is_primary
	`
	err := q.QueryRow(ctx, query,
		img.ID,
		img.BadgeID,
		img.StorageKey,
		img.URL,
		uploadedBy,
		img.CreatedAt,
	).Scan(&img.IsPrimary)
	if err != nil {
		return fmt.Errorf("failed to create badge image: %w", translatePgError(err))
	}
	return nil
}

// Create adds an image to a badge
func (r *BadgeImageRepository) Create(ctx context.Context, img *models.BadgeImage) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockBadge(ctx, tx, img.BadgeID); err != nil {
			return err
		}
		return insertImage(ctx, tx, img)
	})
}

// GetByID retrieves an image by ID
func (r *BadgeImageRepository) GetByID(ctx context.Context, id string) (*models.BadgeImage, error) {
	query := `SELECT ` + imageColumns + ` FROM badge_images WHERE id = $1`

	img, err := scanImage(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get image: %w", translatePgError(err))
	}
	return img, nil
}

// ListByBadge returns a badge's images, primary first
func (r *BadgeImageRepository) ListByBadge(ctx context.Context, badgeID string) ([]*models.BadgeImage, error) {
	query := `SELECT ` + imageColumns + ` FROM badge_images WHERE badge_id = $1
		ORDER BY is_primary DESC, created_at ASC`

	rows, err := r.db.Pool().Query(ctx, query, badgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	images := make([]*models.BadgeImage, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating images: %w", err)
	}
	return images, nil
}

// ListIDs returns the ids of every image, for full re-indexing
func (r *BadgeImageRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT id FROM badge_images ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list image ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SetPrimary makes imageID the badge's only primary image
func (r *BadgeImageRepository) SetPrimary(ctx context.Context, badgeID, imageID string) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockBadge(ctx, tx, badgeID); err != nil {
			return err
		}
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM badge_images WHERE id = $1 AND badge_id = $2)`,
			imageID, badgeID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check image: %w", err)
		}
		if !exists {
			return fmt.Errorf("image %s: %w", imageID, ErrNotFound)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE badge_images SET is_primary = FALSE WHERE badge_id = $1 AND is_primary`, badgeID); err != nil {
			return fmt.Errorf("failed to clear primary image: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE badge_images SET is_primary = TRUE WHERE id = $1`, imageID); err != nil {
			return fmt.Errorf("failed to set primary image: %w", err)
		}
		return nil
	})
}

// Delete removes an image and promotes the oldest remaining image when the
// primary was deleted. It returns the deleted row so the caller can
// remove the blob.
func (r *BadgeImageRepository) Delete(ctx context.Context, badgeID, imageID string) (*models.BadgeImage, error) {
	var deleted *models.BadgeImage
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockBadge(ctx, tx, badgeID); err != nil {
			return err
		}
		query := `DELETE FROM badge_images WHERE id = $1 AND badge_id = $2 RETURNING ` + imageColumns
		img, err := scanImage(tx.QueryRow(ctx, query, imageID, badgeID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("image %s: %w", imageID, ErrNotFound)
			}
			return fmt.Errorf("failed to delete image: %w", err)
		}
		deleted = img

		if img.IsPrimary {
			_, err := tx.Exec(ctx, `
				UPDATE badge_images SET is_primary = TRUE
				WHERE id = (SELECT id FROM badge_images WHERE badge_id = $1 ORDER BY created_at ASC LIMIT 1)
			`, badgeID)
			if err != nil {
				return fmt.Errorf("failed to promote primary image: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
