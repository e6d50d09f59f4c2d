package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

const uploadColumns = `id, user_id, storage_key, url, badge_id, suggested_name, notes, status,
	reviewed_by, review_note, reviewed_at, created_at`

// UploadRepository handles community submission persistence
type UploadRepository struct {
	db *PostgresDB
}

// NewUploadRepository creates a new upload repository
func NewUploadRepository(db *PostgresDB) *UploadRepository {
	return &UploadRepository{db: db}
}

func scanUpload(row pgx.Row) (*models.Upload, error) {
	var u models.Upload
	err := row.Scan(
		&u.ID,
		&u.UserID,
		&u.StorageKey,
		&u.URL,
		&u.BadgeID,
		&u.SuggestedName,
		&u.Notes,
		&u.Status,
		&u.ReviewedBy,
		&u.ReviewNote,
		&u.ReviewedAt,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create stores a new pending upload
func (r *UploadRepository) Create(ctx context.Context, u *models.Upload) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = time.Now()
	if u.Status == "" {
		u.Status = types.StatusPending
	}

	query := `
		INSERT INTO uploads (id, user_id, storage_key, url, badge_id, suggested_name, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool().Exec(ctx, query,
		u.ID,
		u.UserID,
		u.StorageKey,
		u.URL,
		u.BadgeID,
		u.SuggestedName,
		u.Notes,
		u.Status,
		u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", translatePgError(err))
	}
	return nil
}

// GetByID retrieves an upload by ID
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	u, err := scanUpload(r.db.Pool().QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("upload %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get upload: %w", translatePgError(err))
	}
	return u, nil
}

// ListByUser returns a member's submissions, newest first
func (r *UploadRepository) ListByUser(ctx context.Context, userID string) ([]*models.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListByStatus returns a page of submissions for moderation, oldest first
func (r *UploadRepository) ListByStatus(ctx context.Context, status types.ReviewStatus, page types.Pagination) ([]*models.Upload, error) {
	var w whereBuilder
	if status != "" {
		w.add("status = ?", status)
	}
	where := w.sql()
	limit := w.next(page.Limit)
	offset := w.next(page.Offset)

	query := fmt.Sprintf(`SELECT %s FROM uploads %s ORDER BY created_at ASC LIMIT %s OFFSET %s`,
		uploadColumns, where, limit, offset)
	return r.list(ctx, query, w.args...)
}

func (r *UploadRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Upload, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]*models.Upload, 0)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating uploads: %w", err)
	}
	return uploads, nil
}

// CountPending returns the number of submissions awaiting review
func (r *UploadRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM uploads WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return n, nil
}

// lockPending loads an upload FOR UPDATE and checks it is still pending
func lockPending(ctx context.Context, tx pgx.Tx, id string) (*models.Upload, error) {
	u, err := scanUpload(tx.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("upload %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock upload: %w", translatePgError(err))
	}
	if u.Status != types.StatusPending {
		return nil, fmt.Errorf("upload %s is %s: %w", id, u.Status, ErrStateConflict)
	}
	return u, nil
}

// ApproveParams describes an upload approval. Exactly one of BadgeID and
// NewBadge is set.
type ApproveParams struct {
	UploadID   string
	ReviewerID string
	Note       string
	BadgeID    string
	NewBadge   *models.Badge
	// ImageKey and ImageURL name the badge image's own copy of the upload
	// blob; the upload's key is used when empty
	ImageKey string
	ImageURL string
}

// Approve attaches the upload's image to a badge (creating the badge when
// NewBadge is set) and marks the upload approved, all in one transaction
func (r *UploadRepository) Approve(ctx context.Context, p ApproveParams) (*models.UploadApproval, error) {
	out := &models.UploadApproval{}

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		upload, err := lockPending(ctx, tx, p.UploadID)
		if err != nil {
			return err
		}

		var badge *models.Badge
		if p.NewBadge != nil {
			if err := insertBadge(ctx, tx, p.NewBadge); err != nil {
				return err
			}
			badge = p.NewBadge
		} else {
			badge, err = scanBadge(tx.QueryRow(ctx, `SELECT `+badgeColumns+` FROM badges b WHERE b.id = $1`, p.BadgeID))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("badge %s: %w", p.BadgeID, ErrNotFound)
				}
				return fmt.Errorf("failed to get badge: %w", translatePgError(err))
			}
		}

		image := &models.BadgeImage{
			BadgeID:    badge.ID,
			StorageKey: upload.StorageKey,
			URL:        upload.URL,
			UploadedBy: upload.UserID,
		}
		if p.ImageKey != "" {
			image.StorageKey, image.URL = p.ImageKey, p.ImageURL
		}
		if err := lockBadge(ctx, tx, badge.ID); err != nil {
			return err
		}
		if err := insertImage(ctx, tx, image); err != nil {
			return err
		}

		now := time.Now()
		_, err = tx.Exec(ctx, `
			UPDATE uploads
			SET status = 'approved', badge_id = $2, reviewed_by = $3, review_note = $4, reviewed_at = $5
			WHERE id = $1
		`, upload.ID, badge.ID, p.ReviewerID, p.Note, now)
		if err != nil {
			return fmt.Errorf("failed to approve upload: %w", err)
		}

		upload.Status = types.StatusApproved
		upload.BadgeID = &badge.ID
		upload.ReviewedBy = &p.ReviewerID
		upload.ReviewNote = p.Note
		upload.ReviewedAt = &now

		out.Upload = upload
		out.Badge = badge
		out.Image = image
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reject marks a pending upload rejected
func (r *UploadRepository) Reject(ctx context.Context, id, reviewerID, note string) (*models.Upload, error) {
	var out *models.Upload
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		upload, err := lockPending(ctx, tx, id)
		if err != nil {
			return err
		}

		now := time.Now()
		_, err = tx.Exec(ctx, `
			UPDATE uploads
			SET status = 'rejected', reviewed_by = $2, review_note = $3, reviewed_at = $4
			WHERE id = $1
		`, id, reviewerID, note, now)
		if err != nil {
			return fmt.Errorf("failed to reject upload: %w", err)
		}

		upload.Status = types.StatusRejected
		upload.ReviewedBy = &reviewerID
		upload.ReviewNote = note
		upload.ReviewedAt = &now
		out = upload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
