package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mybadgelife/internal/auth"
	"github.com/mybadgelife/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func clearProviderKeys(t *testing.T) {
	t.Helper()
	for _, key := range []string{"REPLICATE_API_TOKEN", "PERPLEXITY_API_KEY", "SERPAPI_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "badgectl-test-secret")
	t.Setenv("AUTH_JWT_ISSUER", "https://auth.example.com")
	t.Setenv("AUTH_JWT_AUDIENCE", "authenticated")

	userID := "6f1c2b9e-8e41-4d0a-9a57-3f0d9c1e2a11"
	out, err := execute(t, "token", "--user", userID, "--email", "collector@example.com", "--ttl", "1h")
	require.NoError(t, err)

	verifier := auth.NewVerifier("badgectl-test-secret", "https://auth.example.com", "authenticated")
	identity, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, "collector@example.com", identity.Email)
}

func TestTokenCmd_RejectsBadUser(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "badgectl-test-secret")

	_, err := execute(t, "token", "--user", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user must be a uuid")
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := execute(t, "token", "--user", "6f1c2b9e-8e41-4d0a-9a57-3f0d9c1e2a11")
	require.Error(t, err)
}

func TestCheckKeysCmd_Unconfigured(t *testing.T) {
	clearProviderKeys(t)

	out, err := execute(t, "check-keys")
	require.NoError(t, err, "unset keys are reported, not failed")
	assert.Contains(t, out, "PROVIDER")
	assert.Equal(t, 3, strings.Count(out, "unset"))
}

func TestCheckKeysCmd_RejectedKey(t *testing.T) {
	clearProviderKeys(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	t.Setenv("PERPLEXITY_API_KEY", "pplx-bad")
	t.Setenv("PERPLEXITY_BASE_URL", srv.URL)

	out, err := execute(t, "check-keys", "perplexity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 provider check(s) failed")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "key rejected (401)")
}

func TestCheckKeysCmd_UnknownProvider(t *testing.T) {
	clearProviderKeys(t)

	_, err := execute(t, "check-keys", "openai")
	require.Error(t, err)
}

func TestFailedChecks(t *testing.T) {
	checks := []*models.ProviderCheck{
		{Provider: "replicate", Configured: true, OK: true},
		{Provider: "perplexity", Configured: false},
		{Provider: "serpapi", Configured: true, OK: false, Error: "request timed out"},
	}
	err := failedChecks(checks)
	require.Error(t, err)
	assert.Equal(t, "1 provider check(s) failed", err.Error())

	assert.NoError(t, failedChecks(checks[:2]))
}
