package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
	"golang.org/x/time/rate"
)

func TestRateLimiter_TierLimits(t *testing.T) {
	rl := NewRateLimiter(1, 10, 50, 5)

	tests := []struct {
		name  string
		actor *models.Profile
		want  rate.Limit
	}{
		{name: "anonymous", actor: nil, want: 1},
		{name: "user", actor: &models.Profile{ID: "u", Role: types.RoleUser}, want: 10},
		{name: "maker", actor: &models.Profile{ID: "m", Role: types.RoleMaker}, want: 10},
		{name: "admin", actor: &models.Profile{ID: "a", Role: types.RoleAdmin}, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rl.limitFor(tt.actor); got != tt.want {
				t.Errorf("limitFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_KeysByUserThenIP(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1, 1)

	anon := httptest.NewRequest("GET", "/api/badges", nil)
	anon.RemoteAddr = "203.0.113.7:5555"
	if ok, _ := rl.Allow(anon); !ok {
		t.Fatal("first anonymous request should pass")
	}

	// same IP, different port
	again := httptest.NewRequest("GET", "/api/badges", nil)
	again.RemoteAddr = "203.0.113.7:6666"
	if ok, _ := rl.Allow(again); ok {
		t.Error("second request from the same IP should be limited")
	}

	user := httptest.NewRequest("GET", "/api/badges", nil)
	user.RemoteAddr = "203.0.113.7:7777"
	user = user.WithContext(withActor(user.Context(), &models.Profile{ID: "u1", Role: types.RoleUser}))
	if ok, _ := rl.Allow(user); !ok {
		t.Error("signed-in user should have a separate bucket")
	}
}

func TestRateLimiter_SweepsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1, 1)
	now := time.Date(2024, 8, 9, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("ip:a", 1)
	rl.getLimiter("ip:b", 1)

	now = now.Add(rl.idleTTL + time.Minute)
	rl.getLimiter("ip:c", 1)

	if len(rl.limiters) != 1 {
		t.Errorf("expected idle limiters to be swept, have %d", len(rl.limiters))
	}
}
