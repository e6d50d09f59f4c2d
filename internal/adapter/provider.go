// Package adapter holds the HTTP clients for the external AI, search and
// webhook providers.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mybadgelife/internal/circuitbreaker"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps how much of a provider response body is read
const maxResponseBytes = 4 << 20

// ErrNotConfigured is returned when a provider has no API key or URL
var ErrNotConfigured = errors.New("provider not configured")

// APIError is a non-2xx response from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       []byte
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned %d", e.Provider, e.StatusCode)
}

// Temporary reports whether the request may succeed if retried
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTimeout reports whether err came from a deadline or a network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ProviderHealth holds health metrics for a provider
type ProviderHealth struct {
	Provider         string        `json:"provider"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

// healthTracker accumulates request outcomes for a provider
type healthTracker struct {
	mu sync.RWMutex

	totalRequests       int64
	successfulReqs      int64
	failedReqs          int64
	totalLatency        time.Duration
	lastSuccess         time.Time
	lastFailure         time.Time
	consecutiveFails    int
	maxConsecutiveFails int
	minSuccessRate      float64
}

func newHealthTracker() *healthTracker {
	return &healthTracker{
		maxConsecutiveFails: 5,
		minSuccessRate:      0.5,
	}
}

// RecordSuccess records a successful request
func (h *healthTracker) RecordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.successfulReqs++
	h.totalLatency += duration
	h.lastSuccess = time.Now()
	h.consecutiveFails = 0
}

// RecordFailure records a failed request
func (h *healthTracker) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.failedReqs++
	h.lastFailure = time.Now()
	h.consecutiveFails++
}

func (h *healthTracker) snapshot(provider string) *ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var successRate float64
	if h.totalRequests > 0 {
		successRate = float64(h.successfulReqs) / float64(h.totalRequests)
	}

	var avgLatency time.Duration
	if h.successfulReqs > 0 {
		avgLatency = h.totalLatency / time.Duration(h.successfulReqs)
	}

	healthy := h.consecutiveFails < h.maxConsecutiveFails
	if h.totalRequests >= 10 && successRate < h.minSuccessRate {
		healthy = false
	}

	return &ProviderHealth{
		Provider:         provider,
		TotalRequests:    h.totalRequests,
		SuccessfulReqs:   h.successfulReqs,
		FailedReqs:       h.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      h.lastSuccess,
		LastFailure:      h.lastFailure,
		ConsecutiveFails: h.consecutiveFails,
		IsHealthy:        healthy,
	}
}

// ProviderOptions are the transport settings shared by every client
type ProviderOptions struct {
	HTTPClient *http.Client
	// RPS and Burst configure the outbound token bucket
	RPS   float64
	Burst int
	// Breakers provides the named circuit breaker; nil creates a private one
	Breakers *circuitbreaker.Manager
}

// httpProvider is the transport shared by the provider clients: rate
// limiting, circuit breaking, JSON encoding and health tracking
type httpProvider struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	health  *healthTracker
}

func newHTTPProvider(name string, timeout time.Duration, defaultRPS float64, opts *ProviderOptions) *httpProvider {
	if opts == nil {
		opts = &ProviderOptions{}
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	var breaker *circuitbreaker.CircuitBreaker
	if opts.Breakers != nil {
		breaker = opts.Breakers.GetOrCreate(name, nil)
	} else {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(name))
	}

	return &httpProvider{
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
		health:  newHealthTracker(),
	}
}

// Health returns the provider's request statistics
func (p *httpProvider) Health() *ProviderHealth {
	return p.health.snapshot(p.name)
}

// BreakerStats returns the provider's circuit breaker statistics
func (p *httpProvider) BreakerStats() circuitbreaker.Stats {
	return p.breaker.Stats()
}

// doJSON sends body (if any) as JSON and decodes a 2xx response into out.
// Transport errors, 429 and 5xx count against the circuit breaker; other
// non-2xx responses are returned as *APIError without tripping it.
func (p *httpProvider) doJSON(ctx context.Context, method, url string, header http.Header, body, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", p.name, err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", p.name, err)
		}
	}

	start := time.Now()
	var result error
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			result = fmt.Errorf("failed to create %s request: %w", p.name, err)
			return nil
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s request failed: %w", p.name, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("failed to read %s response: %w", p.name, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{
				Provider:   p.name,
				StatusCode: resp.StatusCode,
				Message:    errorMessage(data),
				Body:       data,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			if apiErr.Temporary() {
				return apiErr
			}
			result = apiErr
			return nil
		}

		if out != nil && len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				result = fmt.Errorf("failed to decode %s response: %w", p.name, err)
			}
		}
		return nil
	})
	if err == nil {
		err = result
	}

	if err != nil {
		p.health.RecordFailure()
		return err
	}
	p.health.RecordSuccess(time.Since(start))
	return nil
}

// errorMessage pulls a human readable message out of a provider error body
func errorMessage(data []byte) string {
	var body struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
		Msg    string          `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if len(body.Error) > 0 {
			var s string
			if json.Unmarshal(body.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if body.Detail != "" {
			return body.Detail
		}
		if body.Msg != "" {
			return body.Msg
		}
	}

	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// parseRetryAfter reads a Retry-After header given in (possibly fractional) seconds
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
