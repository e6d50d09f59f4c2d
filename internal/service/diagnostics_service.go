package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/circuitbreaker"
	"github.com/mybadgelife/internal/models"
	"golang.org/x/sync/errgroup"
)

// ProviderReplicate names the embedding provider in diagnostics
const ProviderReplicate = "replicate"

const checkTimeout = 15 * time.Second

// ReplicateAccountChecker tests the Replicate token
type ReplicateAccountChecker interface {
	Configured() bool
	Account(ctx context.Context) (*adapter.ReplicateAccount, error)
}

// PerplexityPinger tests the Perplexity key
type PerplexityPinger interface {
	Configured() bool
	Ping(ctx context.Context) error
}

// SerpAccountChecker tests the SerpAPI key
type SerpAccountChecker interface {
	Configured() bool
	Account(ctx context.Context) (*adapter.SerpAPIAccount, error)
}

// BreakerReporter exposes circuit breaker statistics
type BreakerReporter interface {
	AllStats() []circuitbreaker.Stats
}

// MatchPerformanceReporter exposes identification latency stats
type MatchPerformanceReporter interface {
	Performance() *MatchPerformance
}

// DiagnosticsReport is the combined result of every provider check
type DiagnosticsReport struct {
	Checks   []*models.ProviderCheck `json:"checks"`
	Breakers []circuitbreaker.Stats  `json:"breakers"`
	Matching *MatchPerformance       `json:"matching,omitempty"`
}

// DiagnosticsService tests the configured provider keys
type DiagnosticsService struct {
	replicate  ReplicateAccountChecker
	perplexity PerplexityPinger
	serp       SerpAccountChecker
	breakers   BreakerReporter
	matching   MatchPerformanceReporter
	now        func() time.Time
}

// NewDiagnosticsService creates a new diagnostics service. breakers and
// matching may be nil.
func NewDiagnosticsService(replicate ReplicateAccountChecker, perplexity PerplexityPinger, serp SerpAccountChecker, breakers BreakerReporter, matching MatchPerformanceReporter) *DiagnosticsService {
	return &DiagnosticsService{
		replicate:  replicate,
		perplexity: perplexity,
		serp:       serp,
		breakers:   breakers,
		matching:   matching,
		now:        time.Now,
	}
}

// Check runs the check for one provider by name
func (s *DiagnosticsService) Check(ctx context.Context, provider string) (*models.ProviderCheck, error) {
	switch provider {
	case ProviderReplicate:
		return s.CheckReplicate(ctx), nil
	case ProviderPerplexity:
		return s.CheckPerplexity(ctx), nil
	case ProviderSerpAPI:
		return s.CheckSerpAPI(ctx), nil
	}
	return nil, invalidInput("provider must be one of %s, %s, %s", ProviderReplicate, ProviderPerplexity, ProviderSerpAPI)
}

// CheckReplicate reads the account behind the Replicate token
func (s *DiagnosticsService) CheckReplicate(ctx context.Context) *models.ProviderCheck {
	configured := s.replicate != nil && s.replicate.Configured()
	return s.run(ctx, ProviderReplicate, configured, func(ctx context.Context) (string, error) {
		acct, err := s.replicate.Account(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("authenticated as %s (%s)", acct.Username, acct.Type), nil
	})
}

// CheckPerplexity sends a one-token completion
func (s *DiagnosticsService) CheckPerplexity(ctx context.Context) *models.ProviderCheck {
	configured := s.perplexity != nil && s.perplexity.Configured()
	return s.run(ctx, ProviderPerplexity, configured, func(ctx context.Context) (string, error) {
		if err := s.perplexity.Ping(ctx); err != nil {
			return "", err
		}
		return "completion succeeded", nil
	})
}

// CheckSerpAPI reads the SerpAPI account and remaining quota
func (s *DiagnosticsService) CheckSerpAPI(ctx context.Context) *models.ProviderCheck {
	configured := s.serp != nil && s.serp.Configured()
	return s.run(ctx, ProviderSerpAPI, configured, func(ctx context.Context) (string, error) {
		acct, err := s.serp.Account(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("plan %s, %d searches left", acct.PlanName, acct.TotalSearchesLeft), nil
	})
}

// CheckAll runs every provider check in parallel
func (s *DiagnosticsService) CheckAll(ctx context.Context) *DiagnosticsReport {
	checks := make([]*models.ProviderCheck, 3)
	fns := []func(context.Context) *models.ProviderCheck{
		s.CheckReplicate,
		s.CheckPerplexity,
		s.CheckSerpAPI,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range fns {
		g.Go(func() error {
			checks[i] = fn(gctx)
			return nil
		})
	}
	_ = g.Wait()

	report := &DiagnosticsReport{Checks: checks, Breakers: []circuitbreaker.Stats{}}
	if s.breakers != nil {
		report.Breakers = s.breakers.AllStats()
	}
	if s.matching != nil {
		report.Matching = s.matching.Performance()
	}
	return report
}

// run times fn and folds its outcome into a ProviderCheck
func (s *DiagnosticsService) run(ctx context.Context, provider string, configured bool, fn func(ctx context.Context) (string, error)) *models.ProviderCheck {
	check := &models.ProviderCheck{
		Provider:   provider,
		Configured: configured,
		CheckedAt:  s.now().UTC(),
	}
	if !configured {
		check.Error = "API key is not configured"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	detail, err := fn(ctx)
	check.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		check.Error = describeCheckError(err)
		return check
	}
	check.OK = true
	check.Detail = detail
	return check
}

func describeCheckError(err error) string {
	var apiErr *adapter.APIError
	switch {
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case 401, 403:
			return fmt.Sprintf("key rejected (%d)", apiErr.StatusCode)
		}
		return apiErr.Error()
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit open after repeated failures"
	case adapter.IsTimeout(err):
		return "request timed out"
	}
	return err.Error()
}
