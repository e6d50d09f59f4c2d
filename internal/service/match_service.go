package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/matching"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/retry"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
)

// Embedder computes image embeddings
type Embedder interface {
	Configured() bool
	Model() string
	EmbedImage(ctx context.Context, imageRef string) (*adapter.Embedding, error)
}

// EmbeddingStore interface for embedding data operations
type EmbeddingStore interface {
	ListApproved(ctx context.Context) ([]*models.BadgeEmbedding, error)
	Upsert(ctx context.Context, e *models.BadgeEmbedding) error
}

// BadgeSummaryReader resolves badge ids to summaries
type BadgeSummaryReader interface {
	Summaries(ctx context.Context, ids []string, approvedOnly bool) (map[string]*models.BadgeSummary, error)
}

// IndexImageReader interface for the images the indexer embeds
type IndexImageReader interface {
	GetByID(ctx context.Context, id string) (*models.BadgeImage, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// LoadingCache shares loaded results between identical requests
type LoadingCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, dest interface{}, load storage.LoadFunc) (bool, error)
}

// MatchCacheStore keys and invalidates cached identifications
type MatchCacheStore interface {
	MatchKey(digest string) string
	InvalidateMatches(ctx context.Context) error
}

// MatchEventRecorder stores analytics rows for identifications
type MatchEventRecorder interface {
	Record(ctx context.Context, e *models.MatchEvent) error
}

// ImageSource is the photo to identify: uploaded bytes or a public URL
type ImageSource struct {
	Data []byte
	URL  string
}

// MatchConfig holds the ranking parameters
type MatchConfig struct {
	Threshold float64
	TopK      int
	CacheTTL  time.Duration
	MaxBytes  int64
}

// MatchService identifies badges from photos and maintains the embedding set
type MatchService struct {
	cfg        MatchConfig
	embedder   Embedder
	embeddings EmbeddingStore
	badges     BadgeSummaryReader
	images     IndexImageReader
	blobs      Blobs
	cache      LoadingCache
	cacheStore MatchCacheStore
	events     MatchEventRecorder
	queue      IndexEnqueuer
	monitor    *MatchMonitor
}

// NewMatchService creates a new match service. cache, cacheStore, events
// and queue may be nil.
func NewMatchService(
	cfg MatchConfig,
	embedder Embedder,
	embeddings EmbeddingStore,
	badges BadgeSummaryReader,
	images IndexImageReader,
	blobs Blobs,
	cache LoadingCache,
	cacheStore MatchCacheStore,
	events MatchEventRecorder,
	queue IndexEnqueuer,
) *MatchService {
	if cfg.Threshold <= 0 {
		cfg.Threshold = matching.DefaultThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = matching.DefaultTopK
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxBytes <= 0 && blobs != nil {
		cfg.MaxBytes = blobs.MaxBytes()
	}
	return &MatchService{
		cfg:        cfg,
		embedder:   embedder,
		embeddings: embeddings,
		badges:     badges,
		images:     images,
		blobs:      blobs,
		cache:      cache,
		cacheStore: cacheStore,
		events:     events,
		queue:      queue,
		monitor:    NewMatchMonitor(),
	}
}

// Performance returns in-process identification latency stats
func (s *MatchService) Performance() *MatchPerformance {
	return s.monitor.Stats()
}

// Identify ranks the catalog against a photo. Provider failures produce a
// degraded result rather than an error.
func (s *MatchService) Identify(ctx context.Context, actor *models.Profile, src ImageSource) (*models.MatchResult, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}

	imageRef, digest, err := s.prepareSource(src)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	load := func(ctx context.Context) (interface{}, bool, error) {
		result, err := s.run(ctx, imageRef)
		if err != nil {
			return nil, false, err
		}
		return result, result.Status != types.MatchDegraded, nil
	}

	var result *models.MatchResult
	if s.cache != nil && s.cacheStore != nil {
		var cached models.MatchResult
		hit, err := s.cache.GetOrLoad(ctx, s.cacheStore.MatchKey(digest), s.cfg.CacheTTL, &cached, load)
		if err != nil {
			return nil, err
		}
		if hit {
			cached.PredictionStatus = types.PredictionCached
		}
		result = &cached
	} else {
		value, _, err := load(ctx)
		if err != nil {
			return nil, err
		}
		result = value.(*models.MatchResult)
	}

	latency := time.Since(start)
	s.monitor.Record(latency, result.Status, result.PredictionStatus)
	s.recordEvent(ctx, actor, result, latency)
	return result, nil
}

// prepareSource validates the image and returns the provider reference and cache digest
func (s *MatchService) prepareSource(src ImageSource) (string, string, error) {
	url := strings.TrimSpace(src.URL)
	hasData := len(src.Data) > 0
	if hasData == (url != "") {
		return "", "", invalidInput("provide exactly one of an image file or an image URL")
	}

	if hasData {
		if _, err := storage.ValidateImage(src.Data, s.cfg.MaxBytes); err != nil {
			return "", "", translateBlobError(err, s.cfg.MaxBytes)
		}
		return storage.EncodeDataURI(src.Data), storage.Digest(src.Data), nil
	}

	if !validHTTPURL(url) {
		return "", "", invalidInput("imageUrl must be an http(s) URL")
	}
	return url, storage.Digest([]byte("url:" + url)), nil
}

// run embeds the image and ranks it against every approved badge embedding
func (s *MatchService) run(ctx context.Context, imageRef string) (*models.MatchResult, error) {
	logger := logging.FromContext(ctx)
	result := &models.MatchResult{
		Threshold: s.cfg.Threshold,
		Matches:   []*models.BadgeMatch{},
	}

	if !s.embedder.Configured() {
		result.Status = types.MatchDegraded
		result.PredictionStatus = types.PredictionFailed
		result.Error = "embedding provider is not configured"
		return result, nil
	}

	emb, err := s.embedder.EmbedImage(ctx, imageRef)
	if err != nil {
		logger.WithError(err).Warn("Embedding failed, returning degraded match")
		result.Status = types.MatchDegraded
		result.PredictionStatus = types.PredictionFailed
		if emb != nil && emb.Status != "" {
			result.PredictionStatus = emb.Status
		}
		result.Error = describeEmbedError(err)
		return result, nil
	}
	result.PredictionStatus = emb.Status

	rows, err := s.embeddings.ListApproved(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	candidates := make([]matching.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, matching.Candidate{
			BadgeID:   row.BadgeID,
			ImageID:   row.ImageID,
			Embedding: row.Embedding,
		})
	}

	ranked, stats, err := matching.Rank(emb.Vector, candidates, s.cfg.Threshold, s.cfg.TopK)
	if err != nil {
		logger.WithError(err).Warn("Ranking failed, returning degraded match")
		result.Status = types.MatchDegraded
		result.Error = "embedding provider returned an empty vector"
		return result, nil
	}
	result.CandidateCount = stats.Candidates
	if stats.Skipped > 0 {
		logger.WithFields(map[string]interface{}{
			"skipped":    stats.Skipped,
			"dimensions": len(emb.Vector),
		}).Warn("Skipped embeddings with mismatched dimensions")
	}

	if len(ranked) > 0 {
		ids := make([]string, 0, len(ranked))
		for _, m := range ranked {
			ids = append(ids, m.BadgeID)
		}
		summaries, err := s.badges.Summaries(ctx, ids, true)
		if err != nil {
			return nil, fmt.Errorf("failed to load badge summaries: %w", err)
		}
		for _, m := range ranked {
			summary, ok := summaries[m.BadgeID]
			if !ok {
				continue
			}
			result.Matches = append(result.Matches, &models.BadgeMatch{
				Badge:      summary,
				ImageID:    m.ImageID,
				Similarity: m.Similarity,
			})
		}
	}

	result.Status = types.MatchNone
	if len(result.Matches) > 0 {
		result.Status = types.MatchFound
	}
	return result, nil
}

func describeEmbedError(err error) string {
	switch {
	case errors.Is(err, adapter.ErrNotConfigured):
		return "embedding provider is not configured"
	case errors.Is(err, adapter.ErrPredictionTimeout), adapter.IsTimeout(err):
		return "embedding prediction timed out"
	case errors.Is(err, adapter.ErrPredictionFailed), errors.Is(err, adapter.ErrNoEmbedding):
		return "embedding prediction failed"
	}
	return "embedding provider is unavailable"
}

// recordEvent writes the analytics row; failures are logged only
func (s *MatchService) recordEvent(ctx context.Context, actor *models.Profile, result *models.MatchResult, latency time.Duration) {
	if s.events == nil {
		return
	}

	e := &models.MatchEvent{
		EventID:          uuid.New().String(),
		UserID:           actor.ID,
		CreatedAt:        time.Now().UTC(),
		Status:           string(result.Status),
		PredictionStatus: string(result.PredictionStatus),
		CandidateCount:   uint32(result.CandidateCount),
		MatchCount:       uint32(len(result.Matches)),
		LatencyMs:        uint32(latency.Milliseconds()),
	}
	if len(result.Matches) > 0 {
		e.TopBadgeID = result.Matches[0].Badge.ID
		e.TopSimilarity = result.Matches[0].Similarity
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.Record(recordCtx, e); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to record match event")
	}
}

// IndexImage embeds a stored badge image and upserts its embedding. Errors
// that cannot succeed on retry are marked permanent.
func (s *MatchService) IndexImage(ctx context.Context, imageID string) error {
	if _, err := uuid.Parse(imageID); err != nil {
		return retry.Permanent(fmt.Errorf("invalid image id %q", imageID))
	}
	if !s.embedder.Configured() {
		return retry.Permanent(fmt.Errorf("replicate: %w", adapter.ErrNotConfigured))
	}

	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("failed to load image: %w", err)
	}

	data, err := s.blobs.Read(img.StorageKey)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to read blob %s: %w", img.StorageKey, err))
	}

	emb, err := s.embedder.EmbedImage(ctx, storage.EncodeDataURI(data))
	if err != nil {
		if errors.Is(err, adapter.ErrNoEmbedding) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("failed to embed image %s: %w", imageID, err)
	}

	row := &models.BadgeEmbedding{
		BadgeID:   img.BadgeID,
		ImageID:   img.ID,
		Embedding: emb.Vector,
		Model:     emb.Model,
	}
	if err := s.embeddings.Upsert(ctx, row); err != nil {
		if errors.Is(err, storage.ErrReferenceMissing) {
			// image deleted while the prediction ran
			return retry.Permanent(err)
		}
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	if s.cacheStore != nil {
		if err := s.cacheStore.InvalidateMatches(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to invalidate match cache")
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"imageId":    img.ID,
		"badgeId":    img.BadgeID,
		"dimensions": len(emb.Vector),
	}).Info("Indexed badge image")
	return nil
}

// ReindexAll queues every stored image for embedding
func (s *MatchService) ReindexAll(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, types.NewServiceError(types.CodeProviderNotConfigured, "embedding queue is not configured")
	}
	ids, err := s.images.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list images: %w", err)
	}
	for _, id := range ids {
		if err := s.queue.EnqueueImage(ctx, id); err != nil {
			return 0, fmt.Errorf("failed to enqueue image %s: %w", id, err)
		}
	}
	return len(ids), nil
}
