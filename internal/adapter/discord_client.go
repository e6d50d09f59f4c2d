package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/mybadgelife/internal/retry"
)

// Discord message limits
const (
	DiscordMaxContent     = 2000
	DiscordMaxEmbedTitle  = 256
	DiscordMaxDescription = 4096
	DiscordMaxFields      = 25
)

// DiscordClient posts messages to a Discord webhook
type DiscordClient struct {
	*httpProvider
	webhookURL string
	username   string
}

// DiscordEmbedField is one name/value pair of an embed
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordEmbed is a rich message block
type DiscordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

// DiscordMessage is a webhook execute payload
type DiscordMessage struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []DiscordEmbed `json:"embeds,omitempty"`
}

// NewDiscordClient creates a new Discord webhook client
func NewDiscordClient(webhookURL, username string, opts *ProviderOptions) *DiscordClient {
	return &DiscordClient{
		httpProvider: newHTTPProvider("discord", 10*time.Second, 1, opts),
		webhookURL:   webhookURL,
		username:     username,
	}
}

// Configured reports whether a webhook URL is set
func (c *DiscordClient) Configured() bool {
	return c.webhookURL != ""
}

// TruncateRunes shortens s to at most n characters, ending in an ellipsis
// when cut. Discord counts limits in characters, not bytes.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// Send posts one message. The returned error is classified for
// retry.WithExponentialBackoff: 429 carries the server's retry_after, other
// 4xx responses are permanent, 5xx and transport errors are retryable.
func (c *DiscordClient) Send(ctx context.Context, msg *DiscordMessage) error {
	if !c.Configured() {
		return retry.Permanent(fmt.Errorf("discord: %w", ErrNotConfigured))
	}
	if msg.Content == "" && len(msg.Embeds) == 0 {
		return retry.Permanent(fmt.Errorf("discord message is empty"))
	}

	payload := *msg
	if payload.Username == "" {
		payload.Username = c.username
	}
	payload.Content = TruncateRunes(payload.Content, DiscordMaxContent)

	err := c.doJSON(ctx, http.MethodPost, c.webhookURL, nil, &payload, nil)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		wait := discordRetryAfter(apiErr)
		if wait > 0 {
			return retry.RetryAfter(err, wait)
		}
		return err
	case apiErr.StatusCode >= 500:
		return err
	default:
		return retry.Permanent(err)
	}
}

// discordRetryAfter prefers the JSON retry_after (seconds) over the header
func discordRetryAfter(apiErr *APIError) time.Duration {
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(apiErr.Body, &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}
	return apiErr.RetryAfter
}
