package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/retry"
)

const (
	maxCustomTitleLen   = adapter.DiscordMaxEmbedTitle
	maxCustomMessageLen = adapter.DiscordMaxContent
	asyncNotifyTimeout  = 30 * time.Second
)

// Embed colors per notification kind
var eventColors = map[string]int{
	models.EventUploadSubmitted: 0x3498DB,
	models.EventMakerRequested:  0x9B59B6,
	models.EventBadgeSubmitted:  0x2ECC71,
	models.EventTeamRequested:   0xE67E22,
	models.EventCustom:          0x95A5A6,
}

var eventLabels = map[string]string{
	models.EventUploadSubmitted: "Upload submitted",
	models.EventMakerRequested:  "Maker request",
	models.EventBadgeSubmitted:  "Badge submitted",
	models.EventTeamRequested:   "Team request",
	models.EventCustom:          "Message",
}

// DiscordSender delivers webhook messages
type DiscordSender interface {
	Configured() bool
	Send(ctx context.Context, msg *adapter.DiscordMessage) error
}

// NotificationService tells moderators about community activity via Discord
type NotificationService struct {
	discord DiscordSender
	retry   *retry.RetryConfig
	now     func() time.Time
}

// NewNotificationService creates a new notification service. A nil retry
// config uses three attempts starting at one second.
func NewNotificationService(discord DiscordSender, retryCfg *retry.RetryConfig) *NotificationService {
	if retryCfg == nil {
		retryCfg = &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		}
	}
	return &NotificationService{
		discord: discord,
		retry:   retryCfg,
		now:     time.Now,
	}
}

// Configured reports whether a webhook is set
func (s *NotificationService) Configured() bool {
	return s.discord != nil && s.discord.Configured()
}

// Notify formats the event and delivers it, retrying transient failures.
// It is a no-op without a webhook.
func (s *NotificationService) Notify(ctx context.Context, event *models.NotificationEvent) error {
	if event == nil || !s.Configured() {
		return nil
	}
	msg := s.format(event)

	err := retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		return s.discord.Send(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to deliver %s notification: %w", event.Kind, err)
	}
	return nil
}

// NotifyAsync delivers the event in the background. The caller's
// cancellation does not abort delivery; failures are logged.
func (s *NotificationService) NotifyAsync(ctx context.Context, event *models.NotificationEvent) {
	if event == nil || !s.Configured() {
		return
	}
	logger := logging.FromContext(ctx)
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncNotifyTimeout)

	go func() {
		defer cancel()
		if err := s.Notify(detached, event); err != nil {
			logger.WithError(err).WithField("kind", event.Kind).Warn("Notification dropped")
		}
	}()
}

// PostCustom sends a member-authored message
func (s *NotificationService) PostCustom(ctx context.Context, actor *models.Profile, title, message string) error {
	if err := requireActive(actor); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if title == "" || utf8.RuneCountInString(title) > maxCustomTitleLen {
		return invalidInput("title must be 1-%d characters", maxCustomTitleLen)
	}
	if message == "" || utf8.RuneCountInString(message) > maxCustomMessageLen {
		return invalidInput("message must be 1-%d characters", maxCustomMessageLen)
	}
	if !s.Configured() {
		return providerNotConfigured("discord")
	}

	err := s.Notify(ctx, &models.NotificationEvent{
		Kind:    models.EventCustom,
		Title:   title,
		Message: message,
		ActorID: actor.ID,
		Fields:  map[string]string{"user": displayHandle(actor)},
	})
	if err != nil {
		return providerError("discord", err)
	}
	return nil
}

// format renders an event as a single embed
func (s *NotificationService) format(event *models.NotificationEvent) *adapter.DiscordMessage {
	color, ok := eventColors[event.Kind]
	if !ok {
		color = eventColors[models.EventCustom]
	}
	label, ok := eventLabels[event.Kind]
	if !ok {
		label = event.Kind
	}

	embed := adapter.DiscordEmbed{
		Title:       adapter.TruncateRunes(event.Title, adapter.DiscordMaxEmbedTitle),
		Description: adapter.TruncateRunes(event.Message, adapter.DiscordMaxDescription),
		Color:       color,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
	}
	if validHTTPURL(event.URL) {
		embed.URL = event.URL
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(embed.Fields) == adapter.DiscordMaxFields {
			break
		}
		v := event.Fields[k]
		if v == "" {
			continue
		}
		embed.Fields = append(embed.Fields, adapter.DiscordEmbedField{
			Name:   k,
			Value:  adapter.TruncateRunes(v, 1024),
			Inline: true,
		})
	}

	return &adapter.DiscordMessage{
		Content: fmt.Sprintf("**%s**", label),
		Embeds:  []adapter.DiscordEmbed{embed},
	}
}
