package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const perplexitySystemPrompt = "You are a research assistant for electronic conference badge collectors. " +
	"Answer concisely and cite sources."

// PerplexityClient queries the Perplexity chat completions API
type PerplexityClient struct {
	*httpProvider
	apiKey  string
	baseURL string
	model   string
}

// PerplexitySource is one search result backing an answer
type PerplexitySource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"date,omitempty"`
}

// PerplexityAnswer is a normalized chat completion
type PerplexityAnswer struct {
	Model     string
	Answer    string
	Citations []string
	Sources   []PerplexitySource
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityRequest struct {
	Model     string              `json:"model"`
	Messages  []perplexityMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

type perplexityResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
	Citations     []string           `json:"citations"`
	SearchResults []PerplexitySource `json:"search_results"`
}

// NewPerplexityClient creates a new Perplexity client
func NewPerplexityClient(apiKey, baseURL, model string, opts *ProviderOptions) *PerplexityClient {
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	if model == "" {
		model = "sonar"
	}
	return &PerplexityClient{
		httpProvider: newHTTPProvider("perplexity", 60*time.Second, 2, opts),
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        model,
	}
}

// Configured reports whether an API key is set
func (c *PerplexityClient) Configured() bool {
	return c.apiKey != ""
}

func (c *PerplexityClient) complete(ctx context.Context, query string, maxTokens int) (*PerplexityAnswer, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("perplexity: %w", ErrNotConfigured)
	}

	req := perplexityRequest{
		Model: c.model,
		Messages: []perplexityMessage{
			{Role: "system", Content: perplexitySystemPrompt},
			{Role: "user", Content: query},
		},
		MaxTokens: maxTokens,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	var resp perplexityResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/chat/completions", header, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("perplexity returned no choices")
	}

	answer := &PerplexityAnswer{
		Model:     resp.Model,
		Answer:    strings.TrimSpace(resp.Choices[0].Message.Content),
		Citations: resp.Citations,
		Sources:   resp.SearchResults,
	}
	if answer.Citations == nil {
		answer.Citations = []string{}
	}
	return answer, nil
}

// Search asks Perplexity a question and returns the answer with its citations
func (c *PerplexityClient) Search(ctx context.Context, query string) (*PerplexityAnswer, error) {
	return c.complete(ctx, query, 0)
}

// Ping verifies the API key with a one-token completion
func (c *PerplexityClient) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, "ping", 1)
	return err
}
