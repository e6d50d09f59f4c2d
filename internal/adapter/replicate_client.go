package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mybadgelife/internal/types"
)

// Replicate prediction states
const (
	ReplicateStarting   = "starting"
	ReplicateProcessing = "processing"
	ReplicateSucceeded  = "succeeded"
	ReplicateFailed     = "failed"
	ReplicateCanceled   = "canceled"
)

var (
	// ErrPredictionFailed is returned when a prediction ends failed or canceled
	ErrPredictionFailed = errors.New("prediction failed")
	// ErrPredictionTimeout is returned when polling exhausts its attempts
	ErrPredictionTimeout = errors.New("prediction timed out")
	// ErrNoEmbedding is returned when a succeeded prediction has no vector
	ErrNoEmbedding = errors.New("prediction output has no embedding")
)

// PredictionGate admits prediction creation against a shared budget
type PredictionGate interface {
	Acquire(ctx context.Context) error
}

// ReplicateConfig configures the Replicate client
type ReplicateConfig struct {
	APIToken     string
	BaseURL      string
	Version      string
	PollInterval time.Duration
	PollAttempts int
	// Gate, when set, is consulted before every new prediction
	Gate PredictionGate
}

// ReplicateClient creates and polls CLIP embedding predictions on Replicate
type ReplicateClient struct {
	*httpProvider
	apiToken     string
	baseURL      string
	version      string
	pollInterval time.Duration
	pollAttempts int
	gate         PredictionGate
}

// Prediction is a Replicate prediction resource
type Prediction struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output"`
	Error       json.RawMessage `json:"error"`
	Logs        string          `json:"logs"`
	CreatedAt   string          `json:"created_at"`
	CompletedAt string          `json:"completed_at"`
}

// Terminal reports whether the prediction will not change state again
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case ReplicateSucceeded, ReplicateFailed, ReplicateCanceled:
		return true
	}
	return false
}

// ErrorMessage returns the prediction's error as text
func (p *Prediction) ErrorMessage() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	return string(p.Error)
}

// ReplicateAccount is the response of GET /account
type ReplicateAccount struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Embedding is the result of embedding one image
type Embedding struct {
	Vector       []float64
	PredictionID string
	Status       types.PredictionStatus
	Model        string
}

// NewReplicateClient creates a new Replicate client
func NewReplicateClient(cfg ReplicateConfig, opts *ProviderOptions) *ReplicateClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.replicate.com/v1"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}

	return &ReplicateClient{
		httpProvider: newHTTPProvider("replicate", 30*time.Second, 10, opts),
		apiToken:     cfg.APIToken,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		version:      cfg.Version,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		gate:         cfg.Gate,
	}
}

// Configured reports whether an API token is set
func (c *ReplicateClient) Configured() bool {
	return c.apiToken != ""
}

// Model returns the model version used for embeddings
func (c *ReplicateClient) Model() string {
	return c.version
}

func (c *ReplicateClient) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiToken)
	return h
}

// CreatePrediction starts a prediction of the configured model version
func (c *ReplicateClient) CreatePrediction(ctx context.Context, input map[string]interface{}) (*Prediction, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("replicate: %w", ErrNotConfigured)
	}

	body := map[string]interface{}{
		"version": c.version,
		"input":   input,
	}

	var p Prediction
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/predictions", c.header(), body, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("replicate returned a prediction without an id")
	}
	return &p, nil
}

// GetPrediction fetches the current state of a prediction
func (c *ReplicateClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("replicate: %w", ErrNotConfigured)
	}

	var p Prediction
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, c.header(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WaitForPrediction polls a prediction every poll interval until it reaches
// a terminal state or the attempt cap is hit. Temporary provider errors on a
// poll count as an attempt and polling continues.
func (c *ReplicateClient) WaitForPrediction(ctx context.Context, p *Prediction) (*Prediction, types.PredictionStatus, error) {
	if status, err := predictionOutcome(p); status != "" {
		return p, status, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return p, types.PredictionTimeout, ctx.Err()
		case <-ticker.C:
		}

		next, err := c.GetPrediction(ctx, p.ID)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Temporary() {
				continue
			}
			return p, types.PredictionFailed, err
		}
		p = next

		if status, err := predictionOutcome(p); status != "" {
			return p, status, err
		}
	}

	return p, types.PredictionTimeout, fmt.Errorf("%w after %d attempts", ErrPredictionTimeout, c.pollAttempts)
}

func predictionOutcome(p *Prediction) (types.PredictionStatus, error) {
	switch p.Status {
	case ReplicateSucceeded:
		return types.PredictionSucceeded, nil
	case ReplicateFailed, ReplicateCanceled:
		msg := p.ErrorMessage()
		if msg == "" {
			msg = p.Status
		}
		return types.PredictionFailed, fmt.Errorf("%w: %s", ErrPredictionFailed, msg)
	}
	return "", nil
}

// EmbedImage computes the CLIP embedding of an image given as an http(s)
// URL or data URI. The returned Embedding carries the terminal prediction
// status even when an error is returned.
func (c *ReplicateClient) EmbedImage(ctx context.Context, imageRef string) (*Embedding, error) {
	if c.gate != nil {
		if err := c.gate.Acquire(ctx); err != nil {
			return &Embedding{Status: types.PredictionFailed, Model: c.version}, err
		}
	}

	p, err := c.CreatePrediction(ctx, map[string]interface{}{"inputs": imageRef})
	if err != nil {
		return &Embedding{Status: types.PredictionFailed, Model: c.version}, err
	}

	p, status, err := c.WaitForPrediction(ctx, p)
	out := &Embedding{PredictionID: p.ID, Status: status, Model: c.version}
	if err != nil {
		return out, err
	}

	vector, err := parseEmbedding(p.Output)
	if err != nil {
		out.Status = types.PredictionFailed
		return out, err
	}
	out.Vector = vector
	return out, nil
}

// parseEmbedding accepts [{"embedding": [...]}], {"embedding": [...]} or a bare vector
func parseEmbedding(raw json.RawMessage) ([]float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNoEmbedding
	}

	var items []struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		for _, item := range items {
			if len(item.Embedding) > 0 {
				return item.Embedding, nil
			}
		}
	}

	var vector []float64
	if err := json.Unmarshal(raw, &vector); err == nil && len(vector) > 0 {
		return vector, nil
	}

	var obj struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Embedding) > 0 {
		return obj.Embedding, nil
	}

	return nil, ErrNoEmbedding
}

// Account returns the account owning the API token
func (c *ReplicateClient) Account(ctx context.Context) (*ReplicateAccount, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("replicate: %w", ErrNotConfigured)
	}

	var a ReplicateAccount
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/account", c.header(), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
