package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/mybadgelife/internal/errors"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/retry"
	"github.com/mybadgelife/internal/storage"
)

// ImageIndexer embeds one badge image and stores the vector
type ImageIndexer interface {
	IndexImage(ctx context.Context, imageID string) error
}

// JobQueue is the queue of pending embedding jobs
type JobQueue interface {
	Enqueue(ctx context.Context, job storage.IndexJob) error
	Dequeue(ctx context.Context, timeout time.Duration) (*storage.IndexJob, error)
}

// EmbeddingIndexer drains the index queue with a fixed pool of workers
type EmbeddingIndexer struct {
	queue       JobQueue
	indexer     ImageIndexer
	workers     int
	maxAttempts int
	pollTimeout time.Duration
	retryDelay  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	processed atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
}

// EmbeddingIndexerConfig holds configuration for the indexer
type EmbeddingIndexerConfig struct {
	Queue       JobQueue
	Indexer     ImageIndexer
	Workers     int           // default 2
	MaxAttempts int           // default 3
	PollTimeout time.Duration // how long one dequeue blocks, default 5s
	RetryDelay  time.Duration // base delay before a failed job is requeued, default 2s
}

// IndexerStats counts jobs handled since start
type IndexerStats struct {
	Processed int64 `json:"processed"`
	Retried   int64 `json:"retried"`
	Dropped   int64 `json:"dropped"`
}

// NewEmbeddingIndexer creates a new indexer
func NewEmbeddingIndexer(cfg *EmbeddingIndexerConfig) (*EmbeddingIndexer, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("index queue cannot be nil")
	}
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("image indexer cannot be nil")
	}

	w := &EmbeddingIndexer{
		queue:       cfg.Queue,
		indexer:     cfg.Indexer,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		pollTimeout: cfg.PollTimeout,
		retryDelay:  cfg.RetryDelay,
	}
	if w.workers <= 0 {
		w.workers = 2
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.pollTimeout <= 0 {
		w.pollTimeout = 5 * time.Second
	}
	if w.retryDelay <= 0 {
		w.retryDelay = 2 * time.Second
	}
	return w, nil
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (w *EmbeddingIndexer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("embedding indexer is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.running = true

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, i)
		}()
	}
	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"workers":      w.workers,
		"max_attempts": w.maxAttempts,
	}).Info("Embedding indexer started")
	return nil
}

// Run starts the workers and blocks until ctx is cancelled
func (w *EmbeddingIndexer) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return w.Stop(stopCtx)
}

// Stop cancels the workers and waits for in-flight jobs to finish
func (w *EmbeddingIndexer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("embedding indexer is not running")
	}
	w.cancel()
	done := w.doneCh
	w.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	logging.FromContext(ctx).Info("Embedding indexer stopped")
	return nil
}

// Stats returns job counters
func (w *EmbeddingIndexer) Stats() IndexerStats {
	return IndexerStats{
		Processed: w.processed.Load(),
		Retried:   w.retried.Load(),
		Dropped:   w.dropped.Load(),
	}
}

func (w *EmbeddingIndexer) loop(ctx context.Context, id int) {
	log := logging.FromContext(ctx).WithField("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Failed to dequeue index job")
			if !sleepCtx(ctx, w.retryDelay) {
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, job)
	}
}

func (w *EmbeddingIndexer) handle(ctx context.Context, job *storage.IndexJob) {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"image_id": job.ImageID,
		"attempt":  job.Attempt,
	})

	err := w.indexer.IndexImage(ctx, job.ImageID)
	if err == nil {
		w.processed.Add(1)
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// shutting down; put the job back untouched
		w.requeue(context.WithoutCancel(ctx), *job)
		return
	}
	// rejected input such as a deleted image will not succeed on retry
	if retry.IsPermanent(err) || apperrors.IsUserError(err) {
		w.dropped.Add(1)
		log.WithError(err).Warn("Dropping index job")
		return
	}
	if job.Attempt >= w.maxAttempts {
		w.dropped.Add(1)
		log.WithError(err).Error("Index job exhausted its attempts")
		return
	}

	delay := w.retryDelay * time.Duration(job.Attempt)
	if d, ok := retry.RetryDelay(err); ok {
		delay = d
	}
	log.WithError(err).WithField("delay", delay.String()).Warn("Index job failed, retrying")
	if !sleepCtx(ctx, delay) {
		w.requeue(context.WithoutCancel(ctx), *job)
		return
	}

	next := *job
	next.Attempt++
	next.EnqueuedAt = time.Time{}
	w.retried.Add(1)
	w.requeue(ctx, next)
}

func (w *EmbeddingIndexer) requeue(ctx context.Context, job storage.IndexJob) {
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.dropped.Add(1)
		logging.FromContext(ctx).WithError(err).WithField("image_id", job.ImageID).Error("Failed to requeue index job")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
