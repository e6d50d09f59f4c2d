package models

import "time"

// AdminStats is the moderation dashboard summary
type AdminStats struct {
	Profiles             int            `json:"profiles"`
	BadgesByStatus       map[string]int `json:"badgesByStatus"`
	PendingUploads       int            `json:"pendingUploads"`
	PendingMakerRequests int            `json:"pendingMakerRequests"`
	PendingTeamRequests  int            `json:"pendingTeamRequests"`
	Embeddings           int            `json:"embeddings"`
	Matches              *MatchStats    `json:"matches,omitempty"`
}

// ProviderCheck is the result of testing one external API key
type ProviderCheck struct {
	Provider   string    `json:"provider"`
	Configured bool      `json:"configured"`
	OK         bool      `json:"ok"`
	LatencyMs  int64     `json:"latencyMs"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// SearchResult is one normalized web search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchResponse is the normalized output of a search provider
type SearchResponse struct {
	Provider string          `json:"provider"`
	Query    string          `json:"query"`
	Answer   string          `json:"answer,omitempty"`
	Results  []*SearchResult `json:"results"`
	Cached   bool            `json:"cached"`
}

// Notification kinds
const (
	EventUploadSubmitted = "upload_submitted"
	EventMakerRequested  = "maker_requested"
	EventBadgeSubmitted  = "badge_submitted"
	EventTeamRequested   = "team_requested"
	EventCustom          = "custom"
)

// NotificationEvent is something worth telling the moderators about
type NotificationEvent struct {
	Kind    string            `json:"kind"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	URL     string            `json:"url,omitempty"`
	ActorID string            `json:"actorId,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
