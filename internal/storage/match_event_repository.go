package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/models"
)

// MatchEventRepository writes identification analytics to ClickHouse
type MatchEventRepository struct {
	db *ClickHouseDB
}

// NewMatchEventRepository creates a new match event repository
func NewMatchEventRepository(db *ClickHouseDB) *MatchEventRepository {
	return &MatchEventRepository{db: db}
}

// Record inserts one match event
func (r *MatchEventRepository) Record(ctx context.Context, e *models.MatchEvent) error {
	eventID, err := uuid.Parse(e.EventID)
	if err != nil {
		eventID = uuid.New()
		e.EventID = eventID.String()
	}

	query := `
		INSERT INTO match_events (event_id, user_id, created_at, status, prediction_status,
			top_badge_id, top_similarity, candidate_count, match_count, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = r.db.Exec(ctx, query,
		eventID,
		e.UserID,
		e.CreatedAt,
		e.Status,
		e.PredictionStatus,
		e.TopBadgeID,
		e.TopSimilarity,
		e.CandidateCount,
		e.MatchCount,
		e.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record match event: %w", err)
	}
	return nil
}

// Stats aggregates the last days of match events
func (r *MatchEventRepository) Stats(ctx context.Context, days int) (*models.MatchStats, error) {
	if days <= 0 {
		days = 7
	}

	query := `
		SELECT
			count(),
			countIf(status = 'matched'),
			countIf(status = 'no_match'),
			countIf(status = 'degraded'),
			ifNotFinite(avg(latency_ms), 0),
			ifNotFinite(avgIf(top_similarity, status = 'matched'), 0)
		FROM match_events
		WHERE created_at >= now64() - toIntervalDay(?)
	`
	stats := &models.MatchStats{Days: days}
	err := r.db.QueryRow(ctx, query, days).Scan(
		&stats.Total,
		&stats.Matched,
		&stats.NoMatch,
		&stats.Degraded,
		&stats.AvgLatencyMs,
		&stats.AvgTopSimilarity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query match stats: %w", err)
	}
	return stats, nil
}
