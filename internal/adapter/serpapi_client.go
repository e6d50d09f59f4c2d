package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SerpAPIClient runs Google searches through SerpAPI
type SerpAPIClient struct {
	*httpProvider
	apiKey  string
	baseURL string
}

// OrganicResult is one organic Google result
type OrganicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

type serpSearchResponse struct {
	Error          string          `json:"error"`
	OrganicResults []OrganicResult `json:"organic_results"`
}

// SerpAPIAccount is the response of /account.json
type SerpAPIAccount struct {
	AccountEmail      string `json:"account_email"`
	PlanName          string `json:"plan_name"`
	SearchesPerMonth  int    `json:"searches_per_month"`
	TotalSearchesLeft int    `json:"total_searches_left"`
	ThisMonthUsage    int    `json:"this_month_usage"`
	Error             string `json:"error"`
}

// NewSerpAPIClient creates a new SerpAPI client
func NewSerpAPIClient(apiKey, baseURL string, opts *ProviderOptions) *SerpAPIClient {
	if baseURL == "" {
		baseURL = "https://serpapi.com"
	}
	return &SerpAPIClient{
		httpProvider: newHTTPProvider("serpapi", 30*time.Second, 2, opts),
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
	}
}

// Configured reports whether an API key is set
func (c *SerpAPIClient) Configured() bool {
	return c.apiKey != ""
}

// Search returns up to num organic results for query
func (c *SerpAPIClient) Search(ctx context.Context, query string, num int) ([]OrganicResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("serpapi: %w", ErrNotConfigured)
	}
	if num <= 0 || num > 100 {
		num = 10
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))
	params.Set("api_key", c.apiKey)

	var resp serpSearchResponse
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" && len(resp.OrganicResults) == 0 {
		// "Google hasn't returned any results" comes back as an error string
		if strings.Contains(strings.ToLower(resp.Error), "hasn't returned any results") {
			return []OrganicResult{}, nil
		}
		return nil, fmt.Errorf("serpapi: %s", resp.Error)
	}

	results := resp.OrganicResults
	if results == nil {
		results = []OrganicResult{}
	}
	if len(results) > num {
		results = results[:num]
	}
	return results, nil
}

// Account returns the plan and usage for the API key
func (c *SerpAPIClient) Account(ctx context.Context) (*SerpAPIAccount, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("serpapi: %w", ErrNotConfigured)
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)

	var acct SerpAPIAccount
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/account.json?"+params.Encode(), nil, nil, &acct); err != nil {
		return nil, err
	}
	if acct.Error != "" {
		return nil, fmt.Errorf("serpapi: %s", acct.Error)
	}
	return &acct, nil
}
