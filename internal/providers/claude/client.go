// Package claude implements the admin-API client for Anthropic
// organizations: key listing and the messages usage report.
package claude

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	maxPages       = 50
)

type Client struct {
	client  *http.Client
	baseURL string
	version string
}

func New(cfg config.ProviderEndpoint, httpClient *http.Client) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{client: httpClient, baseURL: baseURL, version: version}
}

func (c *Client) Platform() models.Platform { return models.PlatformClaude }

func (c *Client) headers(adminKey string) map[string]string {
	return map[string]string{
		"x-api-key":         adminKey,
		"anthropic-version": c.version,
	}
}

type keyListPage struct {
	Data []struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		Status         string `json:"status"`
		WorkspaceID    string `json:"workspace_id"`
		PartialKeyHint string `json:"partial_key_hint"`
		CreatedAt      string `json:"created_at"`
	} `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}

func (c *Client) ListKeys(ctx context.Context, adminKey string, filter providers.KeyFilter) ([]models.ProviderKey, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var keys []models.ProviderKey
	afterID := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{"limit": []string{strconv.Itoa(limit)}}
		if filter.Status != "" {
			query.Set("status", filter.Status)
		}
		if afterID != "" {
			query.Set("after_id", afterID)
		}

		var payload keyListPage
		if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/v1/organizations/api_keys", query, c.headers(adminKey), &payload); err != nil {
			return nil, err
		}

		for _, item := range payload.Data {
			status := models.KeyStatusActive
			if item.Status != "" && item.Status != "active" {
				status = models.KeyStatusInactive
			}
			createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
			keys = append(keys, models.ProviderKey{
				ProviderKeyID:  item.ID,
				Name:           item.Name,
				Status:         status,
				WorkspaceID:    item.WorkspaceID,
				PartialKeyHint: item.PartialKeyHint,
				CreatedAt:      createdAt,
			})
		}

		if !payload.HasMore || payload.LastID == "" {
			break
		}
		afterID = payload.LastID
	}
	return keys, nil
}

type usageReportPage struct {
	Data []struct {
		StartingAt string        `json:"starting_at"`
		EndingAt   string        `json:"ending_at"`
		Results    []usageResult `json:"results"`
	} `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

type usageResult struct {
	APIKeyID string `json:"api_key_id"`
	// Newer API versions report uncached_input_tokens; older ones used
	// input_tokens for the same quantity.
	UncachedInputTokens *int64 `json:"uncached_input_tokens"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheReadTokens     int64  `json:"cache_read_input_tokens"`
	// cache_creation arrived as a flat scalar first, then as an object of
	// per-TTL sub-counts (ephemeral_5m_input_tokens, ephemeral_1h_input_tokens,
	// ...). Sum whatever shape shows up.
	CacheCreationTokens int64            `json:"cache_creation_input_tokens"`
	CacheCreation       map[string]int64 `json:"cache_creation"`
}

func (r usageResult) normalize() models.UsageFragment {
	input := r.InputTokens
	if r.UncachedInputTokens != nil {
		input = *r.UncachedInputTokens
	}
	cacheCreation := r.CacheCreationTokens
	for _, v := range r.CacheCreation {
		cacheCreation += v
	}
	return models.UsageFragment{
		ProviderKeyID:       r.APIKeyID,
		InputTokens:         input,
		OutputTokens:        r.OutputTokens,
		CacheReadTokens:     r.CacheReadTokens,
		CacheCreationTokens: cacheCreation,
	}
}

func (c *Client) FetchUsage(ctx context.Context, adminKey string, q providers.UsageQuery) ([]models.UsageBucket, error) {
	bucketWidth := q.BucketWidth
	if bucketWidth == "" {
		bucketWidth = "1d"
	}

	var buckets []models.UsageBucket
	nextPage := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{
			"starting_at":  []string{q.StartingAt.UTC().Format(time.RFC3339)},
			"ending_at":    []string{q.EndingAt.UTC().Format(time.RFC3339)},
			"bucket_width": []string{bucketWidth},
			"group_by[]":   []string{"api_key_id"},
			"limit":        []string{"31"},
		}
		if q.ProviderKeyID != "" {
			query.Set("api_key_ids[]", q.ProviderKeyID)
		}
		if nextPage != "" {
			query.Set("page", nextPage)
		}

		var payload usageReportPage
		if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/v1/organizations/usage_report/messages", query, c.headers(adminKey), &payload); err != nil {
			return nil, err
		}

		for _, bucket := range payload.Data {
			start, _ := time.Parse(time.RFC3339, bucket.StartingAt)
			end, _ := time.Parse(time.RFC3339, bucket.EndingAt)
			out := models.UsageBucket{PeriodStart: start.UTC(), PeriodEnd: end.UTC()}
			for _, result := range bucket.Results {
				out.Fragments = append(out.Fragments, result.normalize())
			}
			buckets = append(buckets, out)
		}

		if !payload.HasMore || payload.NextPage == "" {
			break
		}
		nextPage = payload.NextPage
	}
	return buckets, nil
}
