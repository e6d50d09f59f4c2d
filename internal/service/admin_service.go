package service

import (
	"context"
	"fmt"

	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"golang.org/x/sync/errgroup"
)

const defaultStatsDays = 30

// AdminCounters groups the counting queries behind the dashboard
type AdminCounters struct {
	Profiles interface {
		Counts(ctx context.Context) (total, pendingMakers int, err error)
	}
	Badges interface {
		CountByStatus(ctx context.Context) (map[string]int, error)
	}
	Uploads interface {
		CountPending(ctx context.Context) (int, error)
	}
	Teams interface {
		CountPendingRequests(ctx context.Context) (int, error)
	}
	Embeddings interface {
		Count(ctx context.Context) (int, error)
	}
}

// MatchStatsReader aggregates recorded match events
type MatchStatsReader interface {
	Stats(ctx context.Context, days int) (*models.MatchStats, error)
}

// AdminService builds the moderation dashboard
type AdminService struct {
	counters AdminCounters
	matches  MatchStatsReader
}

// NewAdminService creates a new admin service. matches is nil when
// ClickHouse is disabled.
func NewAdminService(counters AdminCounters, matches MatchStatsReader) *AdminService {
	return &AdminService{
		counters: counters,
		matches:  matches,
	}
}

// Stats returns catalog and moderation queue counts, plus match analytics
// over the last days when available
func (s *AdminService) Stats(ctx context.Context, actor *models.Profile, days int) (*models.AdminStats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = defaultStatsDays
	}
	if days > 365 {
		return nil, invalidInput("days must be at most 365")
	}

	stats := &models.AdminStats{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, pending, err := s.counters.Profiles.Counts(gctx)
		if err != nil {
			return fmt.Errorf("profiles: %w", err)
		}
		stats.Profiles = total
		stats.PendingMakerRequests = pending
		return nil
	})
	g.Go(func() error {
		byStatus, err := s.counters.Badges.CountByStatus(gctx)
		if err != nil {
			return fmt.Errorf("badges: %w", err)
		}
		stats.BadgesByStatus = byStatus
		return nil
	})
	g.Go(func() error {
		n, err := s.counters.Uploads.CountPending(gctx)
		if err != nil {
			return fmt.Errorf("uploads: %w", err)
		}
		stats.PendingUploads = n
		return nil
	})
	g.Go(func() error {
		n, err := s.counters.Teams.CountPendingRequests(gctx)
		if err != nil {
			return fmt.Errorf("team requests: %w", err)
		}
		stats.PendingTeamRequests = n
		return nil
	})
	g.Go(func() error {
		n, err := s.counters.Embeddings.Count(gctx)
		if err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		stats.Embeddings = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load admin stats: %w", err)
	}

	if s.matches != nil {
		ms, err := s.matches.Stats(ctx, days)
		if err != nil {
			// analytics are optional on the dashboard
			logging.FromContext(ctx).WithError(err).Warn("Failed to load match stats")
		} else {
			stats.Matches = ms
		}
	}
	return stats, nil
}
