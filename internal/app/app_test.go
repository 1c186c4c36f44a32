package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"pipeline-chat/internal/config"
	"pipeline-chat/internal/ratelimit"
)

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load(func(k string) string { return env[k] })
	require.NoError(t, err)
	return cfg
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	_, _, err := Build(context.Background(), cfg, NewLogger(io.Discard, cfg), nil)
	require.ErrorContains(t, err, "WEBHOOK_BASE_URL")
}

func TestBuild_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key", r.Header.Get("Authorization"))
		require.Equal(t, "tok", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"answers":["pong"]}`)
	}))
	defer upstream.Close()

	cfg := loadConfig(t, map[string]string{
		"WEBHOOK_BASE_URL":          upstream.URL,
		"WEBHOOK_AUTHORIZATION_KEY": "key",
		"WEBHOOK_TOKEN":             "tok",
		"RATE_LIMIT_MAX_REQUESTS":   "1",
	})

	var logs bytes.Buffer
	h, _, err := Build(context.Background(), cfg, NewLogger(&logs, cfg), ratelimit.NewMemoryCounter())
	require.NoError(t, err)

	raw := json.RawMessage(`{"message":"ping"}`)
	resp, err := h.Invoke(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &out))
	require.True(t, out.Success)
	require.Equal(t, "pong", out.Message)

	resp, err = h.Invoke(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Contains(t, logs.String(), "processing chat request")
}
