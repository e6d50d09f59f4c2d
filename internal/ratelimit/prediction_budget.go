// Package ratelimit coordinates the Replicate prediction budget across the
// API server and the embedding indexer using Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mybadgelife/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Minute
	DefaultKeyPrefix  = "budget:replicate:"
)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for interactive identifications (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for background indexing (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx with the budget pool calls made under it draw from
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority tagged on ctx, PriorityHigh if none
func PriorityFrom(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityHigh
}

// consumeScript checks both the total and the pool counter and increments
// them only when the request fits.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local n = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + n > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + n > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, n)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, n)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + n, poolUsed + n}
`)

// PredictionBudget limits how many Replicate predictions all processes
// start per window. Interactive matches draw from a reserved pool so a
// reindex backfill cannot starve them.
type PredictionBudget struct {
	redis      redis.Cmdable
	total      int
	reserved   int
	shared     int
	windowSize time.Duration
	prefix     string
	now        func() time.Time
}

// BudgetConfig holds configuration for the prediction budget.
type BudgetConfig struct {
	// Redis is the client shared by every process. Required.
	Redis redis.Cmdable

	// Total is the number of predictions allowed per window. Required.
	Total int

	// Reserved is the part of Total only PriorityHigh callers may use.
	Reserved int

	// WindowSize is the fixed window length. Default: 1m.
	WindowSize time.Duration

	// KeyPrefix namespaces the counters. Default: budget:replicate:.
	KeyPrefix string
}

// BudgetUsage contains consumption for the current window.
type BudgetUsage struct {
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *BudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Total <= 0 {
		return errors.New("total budget must be positive")
	}
	if c.Reserved < 0 {
		return errors.New("reserved budget cannot be negative")
	}
	if c.Reserved >= c.Total {
		return fmt.Errorf("reserved budget (%d) must leave a shared pool below total budget (%d)", c.Reserved, c.Total)
	}
	return nil
}

// NewPredictionBudget creates a budget with the given configuration.
func NewPredictionBudget(cfg *BudgetConfig) (*PredictionBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &PredictionBudget{
		redis:      cfg.Redis,
		total:      cfg.Total,
		reserved:   cfg.Reserved,
		shared:     cfg.Total - cfg.Reserved,
		windowSize: windowSize,
		prefix:     prefix,
		now:        time.Now,
	}, nil
}

func (b *PredictionBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *PredictionBudget) keys(windowStart time.Time) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowStart.UnixMilli(), 10)
	return b.prefix + "total:" + ts, b.prefix + "reserved:" + ts, b.prefix + "shared:" + ts
}

// poolsFor returns the pools a priority draws from, in order. High priority
// callers spill into the shared pool once the reserved one is exhausted.
func (b *PredictionBudget) poolsFor(priority Priority) []Priority {
	if priority == PriorityHigh {
		return []Priority{PriorityHigh, PriorityLow}
	}
	return []Priority{PriorityLow}
}

// TryConsume attempts to take n predictions from the caller's pool. When
// denied it returns the time until the next window.
func (b *PredictionBudget) TryConsume(ctx context.Context, n int, priority Priority) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	ttlSeconds := int((2 * b.windowSize).Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	for _, pool := range b.poolsFor(priority) {
		poolKey, poolBudget := sharedKey, b.shared
		if pool == PriorityHigh {
			poolKey, poolBudget = reservedKey, b.reserved
		}
		if poolBudget <= 0 {
			continue
		}

		result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
			n, b.total, poolBudget, ttlSeconds).Int64Slice()
		if err != nil {
			return false, b.waitTime(start), fmt.Errorf("failed to consume prediction budget: %w", err)
		}
		if result[0] == 1 {
			return true, 0, nil
		}
	}

	return false, b.waitTime(start), nil
}

// waitTime returns the time until the window after start begins.
func (b *PredictionBudget) waitTime(start time.Time) time.Duration {
	wait := start.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Acquire blocks until one prediction is available to the priority tagged
// on ctx. Redis failures admit the call so an outage does not stop
// identification.
func (b *PredictionBudget) Acquire(ctx context.Context) error {
	priority := PriorityFrom(ctx)
	for {
		allowed, wait, err := b.TryConsume(ctx, 1, priority)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.FromContext(ctx).WithError(err).Warn("Prediction budget unavailable, admitting call")
			return nil
		}
		if allowed {
			return nil
		}

		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"priority": priority.String(),
			"waitMs":   wait.Milliseconds(),
		}).Debug("Prediction budget exhausted, waiting for next window")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Usage returns consumption for the current window.
func (b *PredictionBudget) Usage(ctx context.Context) (*BudgetUsage, error) {
	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read prediction budget: %w", err)
	}

	return &BudgetUsage{
		TotalUsed:      parseIntOrZero(totalCmd),
		ReservedUsed:   parseIntOrZero(reservedCmd),
		SharedUsed:     parseIntOrZero(sharedCmd),
		TotalBudget:    b.total,
		ReservedBudget: b.reserved,
		SharedBudget:   b.shared,
		WindowStart:    start,
	}, nil
}

// parseIntOrZero parses a Redis string command result as int, returning 0 on error.
func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}
