package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/models"
)

// EmbeddingRepository stores CLIP vectors as float8[] rows. Similarity is
// computed in Go over the full set; there is no vector index.
type EmbeddingRepository struct {
	db *PostgresDB
}

// NewEmbeddingRepository creates a new embedding repository
func NewEmbeddingRepository(db *PostgresDB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// Upsert stores the embedding for an image, replacing any previous vector
func (r *EmbeddingRepository) Upsert(ctx context.Context, e *models.BadgeEmbedding) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()

	query := `
		INSERT INTO badge_embeddings (id, badge_id, image_id, embedding, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (image_id) DO UPDATE
			SET badge_id = EXCLUDED.badge_id,
				embedding = EXCLUDED.embedding,
				model = EXCLUDED.model,
				created_at = EXCLUDED.created_at
		RETURNING id
	`
	err := r.db.Pool().QueryRow(ctx, query,
		e.ID,
		e.BadgeID,
		e.ImageID,
		e.Embedding,
		e.Model,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", translatePgError(err))
	}
	return nil
}

// ListApproved returns every embedding whose badge is approved
func (r *EmbeddingRepository) ListApproved(ctx context.Context) ([]*models.BadgeEmbedding, error) {
	query := `
		SELECT e.id, e.badge_id, e.image_id, e.embedding, e.model, e.created_at
		FROM badge_embeddings e
		JOIN badges b ON b.id = e.badge_id
		WHERE b.status = 'approved'
	`
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	out := make([]*models.BadgeEmbedding, 0)
	for rows.Next() {
		var e models.BadgeEmbedding
		if err := rows.Scan(&e.ID, &e.BadgeID, &e.ImageID, &e.Embedding, &e.Model, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	return out, nil
}

// Count returns the number of stored embeddings
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM badge_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}
