package usagesync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/models"
)

func TestWebhookSinkPostsSummary(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.AlertConfig{
		Webhooks: []string{srv.URL},
		Webhook:  config.WebhookConfig{Timeout: 2 * time.Second, MaxRetries: 1},
	}, nil)
	require.NotNil(t, sink)

	alert := SyncAlert{
		AccountName: "prod org",
		Platform:    models.PlatformClaude,
		Trigger:     models.SyncTriggerManual,
		State:       models.StateDone,
		Summary:     &models.SyncSummary{SavedCount: 3, MatchedKeysCount: 2},
		Timestamp:   time.Now(),
	}
	require.NoError(t, sink.Notify(context.Background(), alert))
	require.Equal(t, "prod org", got.AccountName)
	require.Equal(t, "done", got.State)
	require.Equal(t, 3, got.Summary.SavedCount)
}

func TestWebhookSinkRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.AlertConfig{
		Webhooks: []string{srv.URL},
		Webhook:  config.WebhookConfig{Timeout: 2 * time.Second, MaxRetries: 2},
	}, nil)

	err := sink.Notify(context.Background(), SyncAlert{State: models.StateFailed})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

func TestNewWebhookSinkWithoutTargets(t *testing.T) {
	require.Nil(t, NewWebhookSink(config.AlertConfig{}, nil))
}
