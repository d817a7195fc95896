package volcengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/providers"
)

func TestListKeysFollowsPageTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/admin/api_keys" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer ve-admin" {
			t.Fatalf("missing bearer token")
		}
		if r.URL.Query().Get("page_token") == "" {
			_, _ = w.Write([]byte(`{
				"data": [{"id":"ak_1","name":"prod","status":"active","masked_key":"ve-abcd1234wxyz","created_at":1735689600}],
				"next_page_token": "tok_2"
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"data": [{"id":"ak_2","name":"staging","status":"disabled","masked_key":"","created_at":1735689600}],
			"next_page_token": ""
		}`))
	}))
	defer srv.Close()

	client := New(config.ProviderEndpoint{BaseURL: srv.URL}, srv.Client())
	keys, err := client.ListKeys(context.Background(), "ve-admin", providers.KeyFilter{})
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys across pages, got %d", len(keys))
	}
	if keys[0].ProviderKeyID != "ak_1" || keys[0].Status != models.KeyStatusActive {
		t.Fatalf("unexpected first key: %+v", keys[0])
	}
	// Any non-active console status maps to inactive.
	if keys[1].Status != models.KeyStatusInactive {
		t.Fatalf("disabled key should map to inactive, got %s", keys[1].Status)
	}
}

func TestFetchUsageGroupsByKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/admin/usage" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("granularity") != "day" || q.Get("group_by") != "api_key" {
			t.Fatalf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte(`{
			"data": [{
				"start_time": 1735689600,
				"end_time": 1735776000,
				"items": [
					{"api_key_id":"ak_1","prompt_tokens":80,"completion_tokens":15,"cached_tokens":5},
					{"api_key_id":"ak_2","prompt_tokens":10,"completion_tokens":2,"cached_tokens":0}
				]
			}],
			"next_page_token": ""
		}`))
	}))
	defer srv.Close()

	client := New(config.ProviderEndpoint{BaseURL: srv.URL}, srv.Client())
	buckets, err := client.FetchUsage(context.Background(), "ve-admin", providers.UsageQuery{
		StartingAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndingAt:    time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		BucketWidth: "1d",
	})
	if err != nil {
		t.Fatalf("FetchUsage: %v", err)
	}
	if len(buckets) != 1 || len(buckets[0].Fragments) != 2 {
		t.Fatalf("unexpected shape: %+v", buckets)
	}
	if !buckets[0].PeriodStart.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("period start = %v", buckets[0].PeriodStart)
	}
	frag := buckets[0].Fragments[0]
	if frag.ProviderKeyID != "ak_1" || frag.InputTokens != 80 || frag.OutputTokens != 15 || frag.CacheReadTokens != 5 {
		t.Fatalf("unexpected fragment: %+v", frag)
	}
	if frag.TotalTokens() != 100 {
		t.Fatalf("total = %d, want 100", frag.TotalTokens())
	}
}

func TestFetchUsageHourGranularity(t *testing.T) {
	var gotGranularity string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGranularity = r.URL.Query().Get("granularity")
		_, _ = w.Write([]byte(`{"data": [], "next_page_token": ""}`))
	}))
	defer srv.Close()

	client := New(config.ProviderEndpoint{BaseURL: srv.URL}, srv.Client())
	_, err := client.FetchUsage(context.Background(), "ve-admin", providers.UsageQuery{
		StartingAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndingAt:    time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC),
		BucketWidth: "1h",
	})
	if err != nil {
		t.Fatalf("FetchUsage: %v", err)
	}
	if gotGranularity != "hour" {
		t.Fatalf("granularity = %q, want hour", gotGranularity)
	}
}
