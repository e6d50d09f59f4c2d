package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
	"golang.org/x/time/rate"
)

// RateLimiter manages rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex

	// Rate limits per caller tier (requests per second)
	anonymousLimit rate.Limit
	userLimit      rate.Limit
	adminLimit     rate.Limit

	// Burst size (number of requests that can be made in a burst)
	burstSize int

	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(anonymousRPS, userRPS, adminRPS float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limiters:       make(map[string]*limiterEntry),
		anonymousLimit: rate.Limit(anonymousRPS),
		userLimit:      rate.Limit(userRPS),
		adminLimit:     rate.Limit(adminRPS),
		burstSize:      burst,
		idleTTL:        10 * time.Minute,
		now:            time.Now,
	}
}

// limitFor returns the tier rate for a caller
func (rl *RateLimiter) limitFor(actor *models.Profile) rate.Limit {
	switch {
	case actor == nil:
		return rl.anonymousLimit
	case actor.Role == types.RoleAdmin:
		return rl.adminLimit
	default:
		return rl.userLimit
	}
}

// getLimiter returns the limiter for key, replacing it when the caller's
// tier changed
func (rl *RateLimiter) getLimiter(key string, limit rate.Limit) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	entry, ok := rl.limiters[key]
	if !ok || entry.limiter.Limit() != limit {
		entry = &limiterEntry{limiter: rate.NewLimiter(limit, rl.burstSize)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweep drops limiters that have been idle for idleTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	rl.lastSweep = now
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

// Allow reports whether the caller may make another request
func (rl *RateLimiter) Allow(r *http.Request) (bool, rate.Limit) {
	actor := actorFrom(r.Context())
	key := "ip:" + clientIP(r)
	if actor != nil {
		key = "user:" + actor.ID
	}
	limit := rl.limitFor(actor)
	return rl.getLimiter(key, limit).Allow(), limit
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware creates a middleware that enforces rate limiting. It
// runs after AuthMiddleware so signed-in callers are limited per user id.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, limit := rl.Allow(r)
			if !allowed {
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusTooManyRequests, types.CodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"limit": float64(limit),
				})
				return
			}

			// Request allowed - proceed
			next.ServeHTTP(w, r)
		})
	}
}
