package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mybadgelife/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReplicate(t *testing.T, handler http.HandlerFunc) *ReplicateClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewReplicateClient(ReplicateConfig{
		APIToken:     "r8_test",
		BaseURL:      server.URL,
		Version:      "clip-v1",
		PollInterval: 5 * time.Millisecond,
		PollAttempts: 4,
	}, &ProviderOptions{RPS: 1000, Burst: 1000})
}

func TestReplicateEmbedImage_PollsUntilSucceeded(t *testing.T) {
	var polls int32
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "clip-v1", body["version"])
			input := body["input"].(map[string]interface{})
			assert.Equal(t, "https://example.com/badge.png", input["inputs"])

			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"p1","status":"starting"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/p1":
			if atomic.AddInt32(&polls, 1) < 2 {
				_, _ = w.Write([]byte(`{"id":"p1","status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":[{"input":"x","embedding":[0.1,0.2,0.3]}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	emb, err := client.EmbedImage(context.Background(), "https://example.com/badge.png")
	require.NoError(t, err)
	assert.Equal(t, types.PredictionSucceeded, emb.Status)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, emb.Vector)
	assert.Equal(t, "p1", emb.PredictionID)
	assert.Equal(t, "clip-v1", emb.Model)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestReplicateEmbedImage_Failed(t *testing.T) {
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p2","status":"starting"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p2","status":"failed","error":"CUDA out of memory"}`))
	})

	emb, err := client.EmbedImage(context.Background(), "data:image/png;base64,AAAA")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPredictionFailed)
	assert.Contains(t, err.Error(), "CUDA out of memory")
	assert.Equal(t, types.PredictionFailed, emb.Status)
}

func TestReplicateEmbedImage_Canceled(t *testing.T) {
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p3","status":"starting"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p3","status":"canceled"}`))
	})

	emb, err := client.EmbedImage(context.Background(), "https://example.com/a.png")
	assert.ErrorIs(t, err, ErrPredictionFailed)
	assert.Equal(t, types.PredictionFailed, emb.Status)
}

func TestReplicateEmbedImage_TimesOutAfterAttemptCap(t *testing.T) {
	var polls int32
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p4","status":"starting"}`))
			return
		}
		atomic.AddInt32(&polls, 1)
		_, _ = w.Write([]byte(`{"id":"p4","status":"processing"}`))
	})

	emb, err := client.EmbedImage(context.Background(), "https://example.com/a.png")
	assert.ErrorIs(t, err, ErrPredictionTimeout)
	assert.Equal(t, types.PredictionTimeout, emb.Status)
	assert.Equal(t, int32(4), atomic.LoadInt32(&polls))
}

func TestReplicateEmbedImage_AlreadyTerminalOnCreate(t *testing.T) {
	var polls int32
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p5","status":"succeeded","output":[1,0,0]}`))
			return
		}
		atomic.AddInt32(&polls, 1)
	})

	emb, err := client.EmbedImage(context.Background(), "https://example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, emb.Vector)
	assert.Zero(t, atomic.LoadInt32(&polls))
}

func TestReplicateWaitForPrediction_ToleratesTemporaryErrors(t *testing.T) {
	var polls int32
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"p6","status":"succeeded","output":{"embedding":[0.5]}}`))
	})

	p, status, err := client.WaitForPrediction(context.Background(), &Prediction{ID: "p6", Status: ReplicateStarting})
	require.NoError(t, err)
	assert.Equal(t, types.PredictionSucceeded, status)
	vec, err := parseEmbedding(p.Output)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, vec)
}

func TestReplicateCreatePrediction_Unauthorized(t *testing.T) {
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid token."}`))
	})

	_, err := client.CreatePrediction(context.Background(), map[string]interface{}{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid token.", apiErr.Message)
	assert.False(t, apiErr.Temporary())
}

func TestReplicateNotConfigured(t *testing.T) {
	client := NewReplicateClient(ReplicateConfig{}, nil)
	assert.False(t, client.Configured())

	_, err := client.Account(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	emb, err := client.EmbedImage(context.Background(), "https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, types.PredictionFailed, emb.Status)
}

func TestReplicateAccount(t *testing.T) {
	client := newTestReplicate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account", r.URL.Path)
		_, _ = w.Write([]byte(`{"type":"user","username":"badger","name":"Badge Fan"}`))
	})

	acct, err := client.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "badger", acct.Username)

	health := client.Health()
	assert.Equal(t, int64(1), health.SuccessfulReqs)
	assert.True(t, health.IsHealthy)
}

func TestParseEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []float64
		wantErr bool
	}{
		{"list of objects", `[{"embedding":[1,2]}]`, []float64{1, 2}, false},
		{"bare vector", `[0.25,0.75]`, []float64{0.25, 0.75}, false},
		{"object", `{"embedding":[3]}`, []float64{3}, false},
		{"null", `null`, nil, true},
		{"empty list", `[]`, nil, true},
		{"string", `"nope"`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEmbedding(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoEmbedding)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type denyGate struct{ err error }

func (g denyGate) Acquire(context.Context) error { return g.err }

func TestReplicateEmbedImage_GateDenied(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := NewReplicateClient(ReplicateConfig{
		APIToken: "r8_test",
		BaseURL:  server.URL,
		Version:  "clip-v1",
		Gate:     denyGate{err: context.DeadlineExceeded},
	}, &ProviderOptions{RPS: 1000, Burst: 1000})

	emb, err := client.EmbedImage(context.Background(), "https://example.com/badge.png")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.PredictionFailed, emb.Status)
	assert.Zero(t, atomic.LoadInt32(&calls), "no prediction should be created")
}
