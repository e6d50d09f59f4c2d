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

const badgeColumns = `b.id, b.name, b.description, b.event_name, b.year, b.maker_id, b.team_id,
	b.category, b.status, COALESCE(b.created_by::text, ''), b.created_at, b.updated_at`

const badgeSummaryColumns = `b.id, b.name, b.event_name, b.year, b.category, b.status, pi.url`

// primaryImageJoin attaches the primary image (if any) as alias pi
const primaryImageJoin = `LEFT JOIN badge_images pi ON pi.badge_id = b.id AND pi.is_primary`

// BadgeRepository handles badge persistence
type BadgeRepository struct {
	db *PostgresDB
}

// NewBadgeRepository creates a new badge repository
func NewBadgeRepository(db *PostgresDB) *BadgeRepository {
	return &BadgeRepository{db: db}
}

func scanBadge(row pgx.Row) (*models.Badge, error) {
	var b models.Badge
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Description,
		&b.EventName,
		&b.Year,
		&b.MakerID,
		&b.TeamID,
		&b.Category,
		&b.Status,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBadgeSummary(row pgx.Row) (*models.BadgeSummary, error) {
	var s models.BadgeSummary
	if err := row.Scan(&s.ID, &s.Name, &s.EventName, &s.Year, &s.Category, &s.Status, &s.PrimaryImageURL); err != nil {
		return nil, err
	}
	return &s, nil
}

// insertBadge writes a new badge using q, which may be a transaction
func insertBadge(ctx context.Context, q querier, b *models.Badge) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	var createdBy *string
	if b.CreatedBy != "" {
		createdBy = &b.CreatedBy
	}

	query := `
		INSERT INTO badges (id, name, description, event_name, year, maker_id, team_id,
			category, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := q.Exec(ctx, query,
		b.ID,
		b.Name,
		b.Description,
		b.EventName,
		b.Year,
		b.MakerID,
		b.TeamID,
		b.Category,
		b.Status,
		createdBy,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create badge: %w", translatePgError(err))
	}
	return nil
}

// Create creates a new badge
func (r *BadgeRepository) Create(ctx context.Context, b *models.Badge) error {
	return insertBadge(ctx, r.db.Pool(), b)
}

// GetByID retrieves a badge by ID
func (r *BadgeRepository) GetByID(ctx context.Context, id string) (*models.Badge, error) {
	query := `SELECT ` + badgeColumns + ` FROM badges b WHERE b.id = $1`

	b, err := scanBadge(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("badge %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get badge: %w", translatePgError(err))
	}
	return b, nil
}

// Update writes the editable badge fields
func (r *BadgeRepository) Update(ctx context.Context, b *models.Badge) error {
	b.UpdatedAt = time.Now()

	query := `
		UPDATE badges
		SET name = $2, description = $3, event_name = $4, year = $5, team_id = $6,
			category = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := r.db.Pool().Exec(ctx, query,
		b.ID,
		b.Name,
		b.Description,
		b.EventName,
		b.Year,
		b.TeamID,
		b.Category,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update badge: %w", translatePgError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("badge %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

// SetStatus records a moderation decision
func (r *BadgeRepository) SetStatus(ctx context.Context, id string, status types.ReviewStatus) (*models.Badge, error) {
	query := `
		UPDATE badges b SET status = $2, updated_at = NOW()
		WHERE b.id = $1
		RETURNING ` + badgeColumns

	b, err := scanBadge(r.db.Pool().QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("badge %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to set badge status: %w", err)
	}
	return b, nil
}

// Delete removes a badge; images, embeddings and ownerships cascade
func (r *BadgeRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM badges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete badge: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("badge %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns a filtered page of badge summaries and the total match count
func (r *BadgeRepository) List(ctx context.Context, filter models.BadgeFilter) ([]*models.BadgeSummary, int, error) {
	var w whereBuilder
	if filter.Query != "" {
		pattern := likePattern(filter.Query)
		w.add("(b.name ILIKE ? OR b.event_name ILIKE ? OR b.description ILIKE ?)", pattern, pattern, pattern)
	}
	if filter.EventName != "" {
		w.add("LOWER(b.event_name) = LOWER(?)", filter.EventName)
	}
	if filter.Year != nil {
		w.add("b.year = ?", *filter.Year)
	}
	if filter.MakerID != "" {
		w.add("b.maker_id = ?", filter.MakerID)
	}
	if filter.TeamID != "" {
		w.add("b.team_id = ?", filter.TeamID)
	}
	if filter.Category != "" {
		w.add("LOWER(b.category) = LOWER(?)", filter.Category)
	}
	if filter.Status != "" {
		w.add("b.status = ?", filter.Status)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM badges b ` + w.sql()
	if err := r.db.Pool().QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count badges: %w", translatePgError(err))
	}

	where := w.sql()
	limit := w.next(filter.Limit)
	offset := w.next(filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM badges b %s %s
		ORDER BY b.year DESC NULLS LAST, b.name ASC, b.id ASC
		LIMIT %s OFFSET %s`,
		badgeSummaryColumns, primaryImageJoin, where, limit, offset)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list badges: %w", err)
	}
	defer rows.Close()

	items := make([]*models.BadgeSummary, 0)
	for rows.Next() {
		s, err := scanBadgeSummary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan badge: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating badges: %w", err)
	}

	return items, total, nil
}

// Summaries resolves badge ids to summaries. Only approved badges are
// returned when approvedOnly is set; missing ids are simply absent.
func (r *BadgeRepository) Summaries(ctx context.Context, ids []string, approvedOnly bool) (map[string]*models.BadgeSummary, error) {
	out := make(map[string]*models.BadgeSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + badgeSummaryColumns + ` FROM badges b ` + primaryImageJoin + `
		WHERE b.id = ANY($1::uuid[]) AND ($2 = FALSE OR b.status = 'approved')`

	rows, err := r.db.Pool().Query(ctx, query, ids, approvedOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to load badge summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanBadgeSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating badges: %w", err)
	}
	return out, nil
}

// CountByStatus returns badge counts keyed by review status
func (r *BadgeRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT status, COUNT(*) FROM badges GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count badges: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		string(types.StatusPending):  0,
		string(types.StatusApproved): 0,
		string(types.StatusRejected): 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan badge count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountByTeam returns how many approved badges a team has published
func (r *BadgeRepository) CountByTeam(ctx context.Context, teamID string) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM badges WHERE team_id = $1 AND status = 'approved'`, teamID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count team badges: %w", err)
	}
	return n, nil
}
