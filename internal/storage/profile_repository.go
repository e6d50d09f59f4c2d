package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

const profileColumns = `id, email, username, display_name, avatar_url, bio, website,
	role, maker_status, maker_request_note, is_banned, created_at, updated_at`

// ProfileRepository handles profile persistence
type ProfileRepository struct {
	db *PostgresDB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *PostgresDB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.Username,
		&p.DisplayName,
		&p.AvatarURL,
		&p.Bio,
		&p.Website,
		&p.Role,
		&p.MakerStatus,
		&p.MakerRequestNote,
		&p.IsBanned,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Ensure inserts a profile for the auth subject if none exists and returns
// the stored row. An empty stored email is filled from the token.
func (r *ProfileRepository) Ensure(ctx context.Context, id, email string) (*models.Profile, error) {
	query := `
		INSERT INTO profiles (id, email, role, maker_status)
		VALUES ($1, $2, 'user', 'none')
		ON CONFLICT (id) DO UPDATE
			SET email = CASE WHEN profiles.email = '' THEN EXCLUDED.email ELSE profiles.email END
		RETURNING ` + profileColumns

	p, err := scanProfile(r.db.Pool().QueryRow(ctx, query, id, email))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", translatePgError(err))
	}
	return p, nil
}

// GetByID retrieves a profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", translatePgError(err))
	}
	return p, nil
}

// GetByUsername retrieves a profile by username, case-insensitively
func (r *ProfileRepository) GetByUsername(ctx context.Context, username string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE LOWER(username) = LOWER($1)`

	p, err := scanProfile(r.db.Pool().QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpdateDetails writes the member-editable fields
func (r *ProfileRepository) UpdateDetails(ctx context.Context, p *models.Profile) error {
	p.UpdatedAt = time.Now()

	query := `
		UPDATE profiles
		SET username = $2, display_name = $3, avatar_url = $4, bio = $5, website = $6, updated_at = $7
		WHERE id = $1
	`
	result, err := r.db.Pool().Exec(ctx, query,
		p.ID,
		p.Username,
		p.DisplayName,
		p.AvatarURL,
		p.Bio,
		p.Website,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", translatePgError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// SetMakerStatus records a maker status change and optionally a new role
// and request note
func (r *ProfileRepository) SetMakerStatus(ctx context.Context, id string, status types.MakerStatus, role *types.Role, note *string) (*models.Profile, error) {
	query := `
		UPDATE profiles
		SET maker_status = $2,
			role = COALESCE($3, role),
			maker_request_note = COALESCE($4, maker_request_note),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + profileColumns

	var roleArg *string
	if role != nil {
		s := string(*role)
		roleArg = &s
	}

	p, err := scanProfile(r.db.Pool().QueryRow(ctx, query, id, status, roleArg, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to set maker status: %w", err)
	}
	return p, nil
}

// SetRole changes a profile's role
func (r *ProfileRepository) SetRole(ctx context.Context, id string, role types.Role) (*models.Profile, error) {
	query := `UPDATE profiles SET role = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + profileColumns

	p, err := scanProfile(r.db.Pool().QueryRow(ctx, query, id, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to set role: %w", err)
	}
	return p, nil
}

// SetBanned bans or unbans a profile
func (r *ProfileRepository) SetBanned(ctx context.Context, id string, banned bool) (*models.Profile, error) {
	query := `UPDATE profiles SET is_banned = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + profileColumns

	p, err := scanProfile(r.db.Pool().QueryRow(ctx, query, id, banned))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to set banned: %w", err)
	}
	return p, nil
}

// List returns a filtered page of profiles and the total match count
func (r *ProfileRepository) List(ctx context.Context, filter models.ProfileFilter) ([]*models.Profile, int, error) {
	var w whereBuilder
	if filter.Query != "" {
		pattern := likePattern(filter.Query)
		w.add("(username ILIKE ? OR display_name ILIKE ? OR email ILIKE ?)", pattern, pattern, pattern)
	}
	if filter.Role != "" {
		w.add("role = ?", filter.Role)
	}
	if filter.MakerStatus != "" {
		w.add("maker_status = ?", filter.MakerStatus)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM profiles ` + w.sql()
	if err := r.db.Pool().QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	where := w.sql()
	limit := w.next(filter.Limit)
	offset := w.next(filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM profiles %s ORDER BY created_at DESC LIMIT %s OFFSET %s`,
		profileColumns, where, limit, offset)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*models.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, total, nil
}

// Counts returns the number of profiles and of pending maker requests
func (r *ProfileRepository) Counts(ctx context.Context) (total, pendingMakers int, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE maker_status = 'pending')
		FROM profiles
	`
	if err := r.db.Pool().QueryRow(ctx, query).Scan(&total, &pendingMakers); err != nil {
		return 0, 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return total, pendingMakers, nil
}
