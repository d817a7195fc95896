package claude

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/providers"
)

func TestListKeysPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/organizations/api_keys" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-admin" {
			t.Fatalf("missing admin key header")
		}
		if r.URL.Query().Get("after_id") == "" {
			_, _ = w.Write([]byte(`{
				"data": [{"id":"apikey_1","name":"prod","status":"active","workspace_id":"ws_1","partial_key_hint":"sk-ant-api03-ab...XYZ","created_at":"2025-01-01T00:00:00Z"}],
				"has_more": true,
				"last_id": "apikey_1"
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"data": [{"id":"apikey_2","name":"staging","status":"archived","created_at":"2025-01-02T00:00:00Z"}],
			"has_more": false
		}`))
	}))
	defer srv.Close()

	client := New(config.ProviderEndpoint{BaseURL: srv.URL}, srv.Client())
	keys, err := client.ListKeys(context.Background(), "sk-ant-admin", providers.KeyFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys across pages, got %d", len(keys))
	}
	if keys[0].ProviderKeyID != "apikey_1" || keys[0].Status != "active" {
		t.Fatalf("unexpected first key: %+v", keys[0])
	}
	if keys[1].Status != "inactive" {
		t.Fatalf("archived key should map to inactive, got %q", keys[1].Status)
	}
}

func TestFetchUsageNormalizesTokenVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/organizations/usage_report/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"data": [{
				"starting_at": "2025-01-01T00:00:00Z",
				"ending_at": "2025-01-02T00:00:00Z",
				"results": [
					{
						"api_key_id": "apikey_new",
						"uncached_input_tokens": 100,
						"output_tokens": 40,
						"cache_read_input_tokens": 7,
						"cache_creation": {"ephemeral_5m_input_tokens": 3, "ephemeral_1h_input_tokens": 2}
					},
					{
						"api_key_id": "apikey_old",
						"input_tokens": 50,
						"output_tokens": 10,
						"cache_creation_input_tokens": 5
					}
				]
			}],
			"has_more": false
		}`))
	}))
	defer srv.Close()

	client := New(config.ProviderEndpoint{BaseURL: srv.URL}, srv.Client())
	buckets, err := client.FetchUsage(context.Background(), "sk-ant-admin", providers.UsageQuery{
		StartingAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndingAt:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchUsage: %v", err)
	}
	if len(buckets) != 1 || len(buckets[0].Fragments) != 2 {
		t.Fatalf("unexpected shape: %+v", buckets)
	}

	newStyle := buckets[0].Fragments[0]
	if newStyle.InputTokens != 100 || newStyle.CacheCreationTokens != 5 || newStyle.CacheReadTokens != 7 {
		t.Fatalf("new-style fragment not normalized: %+v", newStyle)
	}
	if newStyle.TotalTokens() != 152 {
		t.Fatalf("total = %d, want 152", newStyle.TotalTokens())
	}

	oldStyle := buckets[0].Fragments[1]
	if oldStyle.InputTokens != 50 || oldStyle.CacheCreationTokens != 5 {
		t.Fatalf("legacy fragment not normalized: %+v", oldStyle)
	}
}

func TestFetchUsageZeroUncachedWinsOverLegacyField(t *testing.T) {
	// An explicit uncached_input_tokens of 0 must not fall back to the
	// legacy input_tokens value.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": [{
				"starting_at": "2025-01-01T00:00:00Z",
				"ending_at": "2025-01-02T00:00:00Z",
				"results": [{"api_key_id":"k","uncached_input_tokens":0,"input_tokens":999,"output_tokens":1}]
			}],
			"has_more": false
		}`))
	}))
	defer srv.Close()

	client := New(config.ProviderEndpoint{BaseURL: srv.URL}, srv.Client())
	buckets, err := client.FetchUsage(context.Background(), "sk-ant-admin", providers.UsageQuery{
		StartingAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndingAt:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchUsage: %v", err)
	}
	if got := buckets[0].Fragments[0].InputTokens; got != 0 {
		t.Fatalf("input tokens = %d, want 0", got)
	}
}
