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

const teamColumns = `t.id, t.name, t.description, t.website, COALESCE(t.created_by::text, ''), t.created_at, t.updated_at`

const teamRequestColumns = `id, user_id, kind, team_id, team_name, message, status,
	reviewed_by, review_note, reviewed_at, created_at`

// TeamRepository handles teams, memberships and team requests
type TeamRepository struct {
	db *PostgresDB
}

// NewTeamRepository creates a new team repository
func NewTeamRepository(db *PostgresDB) *TeamRepository {
	return &TeamRepository{db: db}
}

func scanTeam(row pgx.Row) (*models.Team, error) {
	var t models.Team
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Website, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTeamRequest(row pgx.Row) (*models.TeamRequest, error) {
	var req models.TeamRequest
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.Kind,
		&req.TeamID,
		&req.TeamName,
		&req.Message,
		&req.Status,
		&req.ReviewedBy,
		&req.ReviewNote,
		&req.ReviewedAt,
		&req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns a page of teams with member counts, ordered by name
func (r *TeamRepository) List(ctx context.Context, page types.Pagination) ([]*models.TeamSummary, int, error) {
	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM teams`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count teams: %w", err)
	}

	query := `
		SELECT ` + teamColumns + `, (SELECT COUNT(*) FROM team_members m WHERE m.team_id = t.id)
		FROM teams t
		ORDER BY LOWER(t.name)
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool().Query(ctx, query, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]*models.TeamSummary, 0)
	for rows.Next() {
		var t models.Team
		var s models.TeamSummary
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Website, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &s.MemberCount); err != nil {
			return nil, 0, fmt.Errorf("failed to scan team: %w", err)
		}
		s.Team = &t
		teams = append(teams, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating teams: %w", err)
	}
	return teams, total, nil
}

// GetByID retrieves a team by ID
func (r *TeamRepository) GetByID(ctx context.Context, id string) (*models.Team, error) {
	t, err := scanTeam(r.db.Pool().QueryRow(ctx, `SELECT `+teamColumns+` FROM teams t WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get team: %w", translatePgError(err))
	}
	return t, nil
}

// NameTaken reports whether a team already uses name, case-insensitively
func (r *TeamRepository) NameTaken(ctx context.Context, name string) (bool, error) {
	var taken bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM teams WHERE LOWER(name) = LOWER($1))`, name).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check team name: %w", err)
	}
	return taken, nil
}

// Members returns a team's members with their public names
func (r *TeamRepository) Members(ctx context.Context, teamID string) ([]*models.TeamMember, error) {
	query := `
		SELECT m.team_id, m.user_id, p.username, p.display_name, m.role, m.joined_at
		FROM team_members m
		JOIN profiles p ON p.id = m.user_id
		WHERE m.team_id = $1
		ORDER BY m.role DESC, m.joined_at ASC
	`
	rows, err := r.db.Pool().Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	members := make([]*models.TeamMember, 0)
	for rows.Next() {
		var m models.TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Username, &m.DisplayName, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team members: %w", err)
	}
	return members, nil
}

// IsMember reports whether userID belongs to teamID
func (r *TeamRepository) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	var member bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id = $1 AND user_id = $2)`,
		teamID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return member, nil
}

// RemoveMember deletes a membership
func (r *TeamRepository) RemoveMember(ctx context.Context, teamID, userID string) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	return nil
}

// CreateRequest stores a pending team request. A second pending request for
// the same user and target violates a partial unique index and returns
// ErrDuplicate.
func (r *TeamRepository) CreateRequest(ctx context.Context, req *models.TeamRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.Status = types.StatusPending
	req.CreatedAt = time.Now()

	query := `
		INSERT INTO team_requests (id, user_id, kind, team_id, team_name, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool().Exec(ctx, query,
		req.ID,
		req.UserID,
		req.Kind,
		req.TeamID,
		req.TeamName,
		req.Message,
		req.Status,
		req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create team request: %w", translatePgError(err))
	}
	return nil
}

// GetRequest retrieves a team request by ID
func (r *TeamRepository) GetRequest(ctx context.Context, id string) (*models.TeamRequest, error) {
	req, err := scanTeamRequest(r.db.Pool().QueryRow(ctx, `SELECT `+teamRequestColumns+` FROM team_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("team request %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get team request: %w", translatePgError(err))
	}
	return req, nil
}

// ListRequests returns a page of team requests, oldest first
func (r *TeamRepository) ListRequests(ctx context.Context, status types.ReviewStatus, page types.Pagination) ([]*models.TeamRequest, error) {
	var w whereBuilder
	if status != "" {
		w.add("status = ?", status)
	}
	where := w.sql()
	limit := w.next(page.Limit)
	offset := w.next(page.Offset)

	query := fmt.Sprintf(`SELECT %s FROM team_requests %s ORDER BY created_at ASC LIMIT %s OFFSET %s`,
		teamRequestColumns, where, limit, offset)

	rows, err := r.db.Pool().Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list team requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*models.TeamRequest, 0)
	for rows.Next() {
		req, err := scanTeamRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team requests: %w", err)
	}
	return requests, nil
}

// CountPendingRequests returns the number of requests awaiting review
func (r *TeamRepository) CountPendingRequests(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM team_requests WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count team requests: %w", err)
	}
	return n, nil
}

// ReviewRequest records a decision on a pending request. Approving a create
// request makes the team with the requester as owner; approving a join
// request adds the requester as a member. The returned team is nil for
// rejections.
func (r *TeamRepository) ReviewRequest(ctx context.Context, id, reviewerID string, approve bool, note string) (*models.TeamRequest, *models.Team, error) {
	var (
		outReq  *models.TeamRequest
		outTeam *models.Team
	)

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		req, err := scanTeamRequest(tx.QueryRow(ctx,
			`SELECT `+teamRequestColumns+` FROM team_requests WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("team request %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to lock team request: %w", translatePgError(err))
		}
		if req.Status != types.StatusPending {
			return fmt.Errorf("team request %s is %s: %w", id, req.Status, ErrStateConflict)
		}

		status := types.StatusRejected
		if approve {
			status = types.StatusApproved
			team, err := applyTeamRequest(ctx, tx, req)
			if err != nil {
				return err
			}
			outTeam = team
		}

		now := time.Now()
		_, err = tx.Exec(ctx, `
			UPDATE team_requests
			SET status = $2, reviewed_by = $3, review_note = $4, reviewed_at = $5
			WHERE id = $1
		`, id, status, reviewerID, note, now)
		if err != nil {
			return fmt.Errorf("failed to review team request: %w", err)
		}

		req.Status = status
		req.ReviewedBy = &reviewerID
		req.ReviewNote = note
		req.ReviewedAt = &now
		outReq = req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outReq, outTeam, nil
}

func applyTeamRequest(ctx context.Context, tx pgx.Tx, req *models.TeamRequest) (*models.Team, error) {
	switch req.Kind {
	case types.TeamRequestCreate:
		now := time.Now()
		team := &models.Team{
			ID:        uuid.New().String(),
			Name:      req.TeamName,
			CreatedBy: req.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO teams (id, name, description, website, created_by, created_at, updated_at)
			VALUES ($1, $2, '', '', $3, $4, $5)
		`, team.ID, team.Name, team.CreatedBy, team.CreatedAt, team.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to create team: %w", translatePgError(err))
		}
		if err := addMember(ctx, tx, team.ID, req.UserID, types.TeamOwner); err != nil {
			return nil, err
		}
		return team, nil

	case types.TeamRequestJoin:
		if req.TeamID == nil {
			return nil, fmt.Errorf("join request %s has no team: %w", req.ID, ErrStateConflict)
		}
		team, err := scanTeam(tx.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams t WHERE t.id = $1`, *req.TeamID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("team %s: %w", *req.TeamID, ErrNotFound)
			}
			return nil, fmt.Errorf("failed to get team: %w", err)
		}
		if err := addMember(ctx, tx, team.ID, req.UserID, types.TeamMember); err != nil {
			return nil, err
		}
		return team, nil
	}
	return nil, fmt.Errorf("unknown team request kind %q: %w", req.Kind, ErrStateConflict)
}

func addMember(ctx context.Context, q querier, teamID, userID string, role types.TeamMemberRole) error {
	_, err := q.Exec(ctx, `
		INSERT INTO team_members (team_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", translatePgError(err))
	}
	return nil
}
