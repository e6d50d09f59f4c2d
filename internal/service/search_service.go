package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

// Search providers
const (
	ProviderPerplexity = "perplexity"
	ProviderSerpAPI    = "serpapi"
)

const (
	maxSearchQueryLen = 500
	serpResultCount   = 10
)

// PerplexitySearcher answers questions with cited web search
type PerplexitySearcher interface {
	Configured() bool
	Search(ctx context.Context, query string) (*adapter.PerplexityAnswer, error)
}

// SerpSearcher returns organic web results
type SerpSearcher interface {
	Configured() bool
	Search(ctx context.Context, query string, num int) ([]adapter.OrganicResult, error)
}

// SearchKeys builds cache keys for search results
type SearchKeys interface {
	SearchKey(provider, query string) string
	ResearchKey(badgeID string) string
}

// SearchService runs web searches for admins and badge research for members
type SearchService struct {
	perplexity  PerplexitySearcher
	serp        SerpSearcher
	badges      BadgeGetter
	cache       LoadingCache
	keys        SearchKeys
	searchTTL   time.Duration
	researchTTL time.Duration
}

// NewSearchService creates a new search service. cache and keys may be nil.
func NewSearchService(perplexity PerplexitySearcher, serp SerpSearcher, badges BadgeGetter, cache LoadingCache, keys SearchKeys, searchTTL, researchTTL time.Duration) *SearchService {
	if searchTTL <= 0 {
		searchTTL = 10 * time.Minute
	}
	if researchTTL <= 0 {
		researchTTL = 24 * time.Hour
	}
	return &SearchService{
		perplexity:  perplexity,
		serp:        serp,
		badges:      badges,
		cache:       cache,
		keys:        keys,
		searchTTL:   searchTTL,
		researchTTL: researchTTL,
	}
}

// Search queries the named provider, perplexity by default
func (s *SearchService) Search(ctx context.Context, actor *models.Profile, query, provider string) (*models.SearchResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" || utf8.RuneCountInString(query) > maxSearchQueryLen {
		return nil, invalidInput("query must be 1-%d characters", maxSearchQueryLen)
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderPerplexity
	}

	var run func(ctx context.Context) (*models.SearchResponse, error)
	switch provider {
	case ProviderPerplexity:
		run = func(ctx context.Context) (*models.SearchResponse, error) {
			return s.askPerplexity(ctx, query)
		}
	case ProviderSerpAPI:
		run = func(ctx context.Context) (*models.SearchResponse, error) {
			return s.searchSerp(ctx, query)
		}
	default:
		return nil, invalidInput("provider must be %q or %q", ProviderPerplexity, ProviderSerpAPI)
	}

	key := ""
	if s.keys != nil {
		key = s.keys.SearchKey(provider, query)
	}
	return s.cached(ctx, key, s.searchTTL, run)
}

// ResearchBadge asks Perplexity about a badge using its name, event and
// year. Answers are cached per badge.
func (s *SearchService) ResearchBadge(ctx context.Context, actor *models.Profile, badgeID string) (*models.SearchResponse, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(badgeID, "id"); err != nil {
		return nil, err
	}
	b, err := s.badges.GetByID(ctx, badgeID)
	if err != nil {
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "get badge")
	}
	if !canView(b, actor) {
		return nil, types.NewServiceError(types.CodeBadgeNotFound, "badge not found")
	}

	query := researchQuery(b)
	key := ""
	if s.keys != nil {
		key = s.keys.ResearchKey(b.ID)
	}
	return s.cached(ctx, key, s.researchTTL, func(ctx context.Context) (*models.SearchResponse, error) {
		return s.askPerplexity(ctx, query)
	})
}

func researchQuery(b *models.Badge) string {
	parts := []string{fmt.Sprintf("the %q electronic conference badge", b.Name)}
	if b.EventName != "" {
		parts = append(parts, "from "+b.EventName)
	}
	if b.Year != nil {
		parts = append(parts, strconv.Itoa(*b.Year))
	}
	return "Tell me about " + strings.Join(parts, " ") +
		": who made it, its hardware, features and any hidden challenges."
}

// cached runs fn through the loading cache when one is configured
func (s *SearchService) cached(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (*models.SearchResponse, error)) (*models.SearchResponse, error) {
	if s.cache == nil || key == "" {
		return fn(ctx)
	}

	var resp models.SearchResponse
	hit, err := s.cache.GetOrLoad(ctx, key, ttl, &resp, func(ctx context.Context) (interface{}, bool, error) {
		r, err := fn(ctx)
		if err != nil {
			return nil, false, err
		}
		return r, true, nil
	})
	if err != nil {
		return nil, err
	}
	resp.Cached = hit
	return &resp, nil
}

func (s *SearchService) askPerplexity(ctx context.Context, query string) (*models.SearchResponse, error) {
	if s.perplexity == nil || !s.perplexity.Configured() {
		return nil, providerNotConfigured(ProviderPerplexity)
	}
	answer, err := s.perplexity.Search(ctx, query)
	if err != nil {
		return nil, providerError(ProviderPerplexity, err)
	}

	resp := &models.SearchResponse{
		Provider: ProviderPerplexity,
		Query:    query,
		Answer:   answer.Answer,
		Results:  []*models.SearchResult{},
	}
	seen := make(map[string]bool)
	for _, src := range answer.Sources {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		resp.Results = append(resp.Results, &models.SearchResult{Title: src.Title, URL: src.URL})
	}
	for _, url := range answer.Citations {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		resp.Results = append(resp.Results, &models.SearchResult{Title: url, URL: url})
	}
	return resp, nil
}

func (s *SearchService) searchSerp(ctx context.Context, query string) (*models.SearchResponse, error) {
	if s.serp == nil || !s.serp.Configured() {
		return nil, providerNotConfigured(ProviderSerpAPI)
	}
	results, err := s.serp.Search(ctx, query, serpResultCount)
	if err != nil {
		return nil, providerError(ProviderSerpAPI, err)
	}

	resp := &models.SearchResponse{
		Provider: ProviderSerpAPI,
		Query:    query,
		Results:  make([]*models.SearchResult, 0, len(results)),
	}
	for _, r := range results {
		resp.Results = append(resp.Results, &models.SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
		})
	}
	return resp, nil
}
