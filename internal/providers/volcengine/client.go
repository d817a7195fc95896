// Package volcengine implements the Ark console admin client for Volcengine.
package volcengine

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
	defaultBaseURL = "https://ark.cn-beijing.volces.com"
	maxPages       = 50
)

type Client struct {
	client  *http.Client
	baseURL string
}

func New(cfg config.ProviderEndpoint, httpClient *http.Client) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{client: httpClient, baseURL: baseURL}
}

func (c *Client) Platform() models.Platform { return models.PlatformVolcengine }

func (c *Client) headers(adminKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminKey}
}

type keyListPage struct {
	Data []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Status    string `json:"status"`
		MaskedKey string `json:"masked_key"`
		CreatedAt int64  `json:"created_at"`
	} `json:"data"`
	NextPageToken string `json:"next_page_token"`
}

func (c *Client) ListKeys(ctx context.Context, adminKey string, filter providers.KeyFilter) ([]models.ProviderKey, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var keys []models.ProviderKey
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{"page_size": []string{strconv.Itoa(limit)}}
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var payload keyListPage
		if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/api/v3/admin/api_keys", query, c.headers(adminKey), &payload); err != nil {
			return nil, err
		}

		for _, item := range payload.Data {
			status := models.KeyStatusActive
			if item.Status != "" && item.Status != "active" {
				status = models.KeyStatusInactive
			}
			keys = append(keys, models.ProviderKey{
				ProviderKeyID:  item.ID,
				Name:           item.Name,
				Status:         status,
				PartialKeyHint: item.MaskedKey,
				CreatedAt:      time.Unix(item.CreatedAt, 0).UTC(),
			})
		}

		if payload.NextPageToken == "" {
			break
		}
		pageToken = payload.NextPageToken
	}
	return keys, nil
}

type usagePage struct {
	Data []struct {
		StartTime int64 `json:"start_time"`
		EndTime   int64 `json:"end_time"`
		Items     []struct {
			APIKeyID         string `json:"api_key_id"`
			PromptTokens     int64  `json:"prompt_tokens"`
			CompletionTokens int64  `json:"completion_tokens"`
			CachedTokens     int64  `json:"cached_tokens"`
		} `json:"items"`
	} `json:"data"`
	NextPageToken string `json:"next_page_token"`
}

func (c *Client) FetchUsage(ctx context.Context, adminKey string, q providers.UsageQuery) ([]models.UsageBucket, error) {
	granularity := "day"
	if q.BucketWidth == "1h" {
		granularity = "hour"
	}

	var buckets []models.UsageBucket
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{
			"start_time":  []string{strconv.FormatInt(q.StartingAt.UTC().Unix(), 10)},
			"end_time":    []string{strconv.FormatInt(q.EndingAt.UTC().Unix(), 10)},
			"granularity": []string{granularity},
			"group_by":    []string{"api_key"},
		}
		if q.ProviderKeyID != "" {
			query.Set("api_key_id", q.ProviderKeyID)
		}
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var payload usagePage
		if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/api/v3/admin/usage", query, c.headers(adminKey), &payload); err != nil {
			return nil, err
		}

		for _, bucket := range payload.Data {
			out := models.UsageBucket{
				PeriodStart: time.Unix(bucket.StartTime, 0).UTC(),
				PeriodEnd:   time.Unix(bucket.EndTime, 0).UTC(),
			}
			for _, item := range bucket.Items {
				out.Fragments = append(out.Fragments, models.UsageFragment{
					ProviderKeyID:   item.APIKeyID,
					InputTokens:     item.PromptTokens,
					OutputTokens:    item.CompletionTokens,
					CacheReadTokens: item.CachedTokens,
				})
			}
			buckets = append(buckets, out)
		}

		if payload.NextPageToken == "" {
			break
		}
		pageToken = payload.NextPageToken
	}
	return buckets, nil
}
