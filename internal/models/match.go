package models

import (
	"time"

	"github.com/mybadgelife/internal/types"
)

// BadgeEmbedding is the CLIP vector of one badge image
type BadgeEmbedding struct {
	ID        string    `json:"id" db:"id"`
	BadgeID   string    `json:"badgeId" db:"badge_id"`
	ImageID   string    `json:"imageId" db:"image_id"`
	Embedding []float64 `json:"embedding" db:"embedding"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// BadgeMatch is one ranked candidate of an identification
type BadgeMatch struct {
	Badge      *BadgeSummary `json:"badge"`
	ImageID    string        `json:"imageId"`
	Similarity float64       `json:"similarity"`
}

// MatchResult is the outcome of identifying a badge photo
type MatchResult struct {
	Status           types.MatchStatus      `json:"status"`
	PredictionStatus types.PredictionStatus `json:"predictionStatus"`
	Matches          []*BadgeMatch          `json:"matches"`
	Threshold        float64                `json:"threshold"`
	CandidateCount   int                    `json:"candidateCount"`
	Error            string                 `json:"error,omitempty"`
}

// MatchEvent is the analytics row recorded for every identification
type MatchEvent struct {
	EventID          string    `json:"eventId" ch:"event_id"`
	UserID           string    `json:"userId" ch:"user_id"`
	CreatedAt        time.Time `json:"createdAt" ch:"created_at"`
	Status           string    `json:"status" ch:"status"`
	PredictionStatus string    `json:"predictionStatus" ch:"prediction_status"`
	TopBadgeID       string    `json:"topBadgeId" ch:"top_badge_id"`
	TopSimilarity    float64   `json:"topSimilarity" ch:"top_similarity"`
	CandidateCount   uint32    `json:"candidateCount" ch:"candidate_count"`
	MatchCount       uint32    `json:"matchCount" ch:"match_count"`
	LatencyMs        uint32    `json:"latencyMs" ch:"latency_ms"`
}

// MatchStats aggregates match events over a window of days
type MatchStats struct {
	Days             int     `json:"days"`
	Total            uint64  `json:"total"`
	Matched          uint64  `json:"matched"`
	NoMatch          uint64  `json:"noMatch"`
	Degraded         uint64  `json:"degraded"`
	AvgLatencyMs     float64 `json:"avgLatencyMs"`
	AvgTopSimilarity float64 `json:"avgTopSimilarity"`
}
