package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/retry"
	"github.com/mybadgelife/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDiscord struct {
	mu         sync.Mutex
	configured bool
	errs       []error
	sent       []*adapter.DiscordMessage
	done       chan struct{}
}

func (f *fakeDiscord) Configured() bool { return f.configured }

func (f *fakeDiscord) Send(ctx context.Context, msg *adapter.DiscordMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.sent = append(f.sent, msg)
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	return nil
}

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestNotificationService_FormatsEmbed(t *testing.T) {
	discord := &fakeDiscord{configured: true}
	svc := NewNotificationService(discord, fastRetry())
	svc.now = func() time.Time { return time.Date(2024, 8, 9, 10, 0, 0, 0, time.UTC) }

	err := svc.Notify(context.Background(), &models.NotificationEvent{
		Kind:    models.EventUploadSubmitted,
		Title:   "New badge photo submitted",
		Message: "found at the con",
		URL:     "https://media.example.com/media/uploads/x.png",
		Fields:  map[string]string{"user": "@fan", "badgeId": "abc", "empty": ""},
	})
	require.NoError(t, err)
	require.Len(t, discord.sent, 1)

	msg := discord.sent[0]
	assert.Equal(t, "**Upload submitted**", msg.Content)
	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	assert.Equal(t, "New badge photo submitted", embed.Title)
	assert.Equal(t, "https://media.example.com/media/uploads/x.png", embed.URL)
	assert.Equal(t, 0x3498DB, embed.Color)
	assert.Equal(t, "2024-08-09T10:00:00Z", embed.Timestamp)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "badgeId", embed.Fields[0].Name)
	assert.Equal(t, "user", embed.Fields[1].Name)
}

func TestNotificationService_RetriesTransientFailures(t *testing.T) {
	discord := &fakeDiscord{configured: true, errs: []error{
		errors.New("discord returned 502"),
		retry.RetryAfter(errors.New("rate limited"), time.Millisecond),
	}}
	svc := NewNotificationService(discord, fastRetry())

	require.NoError(t, svc.Notify(context.Background(), &models.NotificationEvent{Kind: models.EventCustom, Title: "hi"}))
	assert.Len(t, discord.sent, 1)
}

func TestNotificationService_StopsOnPermanentFailure(t *testing.T) {
	discord := &fakeDiscord{configured: true, errs: []error{
		retry.Permanent(errors.New("discord returned 400")),
	}}
	svc := NewNotificationService(discord, fastRetry())

	err := svc.Notify(context.Background(), &models.NotificationEvent{Kind: models.EventCustom, Title: "hi"})
	require.Error(t, err)
	assert.Empty(t, discord.sent)
	assert.Empty(t, discord.errs)
}

func TestNotificationService_UnconfiguredIsNoop(t *testing.T) {
	discord := &fakeDiscord{configured: false}
	svc := NewNotificationService(discord, fastRetry())

	require.NoError(t, svc.Notify(context.Background(), &models.NotificationEvent{Kind: models.EventCustom}))
	svc.NotifyAsync(context.Background(), &models.NotificationEvent{Kind: models.EventCustom})
	assert.Empty(t, discord.sent)

	err := svc.PostCustom(context.Background(), userProfile(), "title", "message")
	assertCode(t, err, types.CodeProviderNotConfigured)
}

func TestNotificationService_NotifyAsyncOutlivesCaller(t *testing.T) {
	done := make(chan struct{})
	discord := &fakeDiscord{configured: true, done: done}
	svc := NewNotificationService(discord, fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	svc.NotifyAsync(ctx, &models.NotificationEvent{Kind: models.EventMakerRequested, Title: "Maker request"})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async notification was not delivered")
	}
}

func TestNotificationService_PostCustomValidation(t *testing.T) {
	discord := &fakeDiscord{configured: true}
	svc := NewNotificationService(discord, fastRetry())
	ctx := context.Background()

	assertCode(t, svc.PostCustom(ctx, nil, "t", "m"), types.CodeUnauthorized)
	assertCode(t, svc.PostCustom(ctx, userProfile(), "", "m"), types.CodeInvalidInput)
	assertCode(t, svc.PostCustom(ctx, userProfile(), strings.Repeat("t", 257), "m"), types.CodeInvalidInput)
	assertCode(t, svc.PostCustom(ctx, userProfile(), "t", strings.Repeat("m", 2001)), types.CodeInvalidInput)

	require.NoError(t, svc.PostCustom(ctx, userProfile(), "Meetup", "Badge swap at 3pm"))
	require.Len(t, discord.sent, 1)
	assert.Equal(t, "Badge swap at 3pm", discord.sent[0].Embeds[0].Description)

	discord.errs = []error{retry.Permanent(&adapter.APIError{Provider: "discord", StatusCode: 404, Message: "Unknown Webhook"})}
	err := svc.PostCustom(ctx, userProfile(), "Meetup", "again")
	assertCode(t, err, types.CodeProviderError)
}

