// Package openai implements the organization admin-API client for OpenAI:
// admin key listing and the completions usage report.
package openai

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
	defaultBaseURL = "https://api.openai.com"
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

func (c *Client) Platform() models.Platform { return models.PlatformOpenAI }

func (c *Client) headers(adminKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminKey}
}

type adminKeyPage struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		RedactedValue string `json:"redacted_value"`
		CreatedAt     int64  `json:"created_at"`
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
	after := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{"limit": []string{strconv.Itoa(limit)}}
		if after != "" {
			query.Set("after", after)
		}

		var payload adminKeyPage
		if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/v1/organization/admin_api_keys", query, c.headers(adminKey), &payload); err != nil {
			return nil, err
		}

		for _, item := range payload.Data {
			// The listing only ever returns live keys; revoked ones disappear.
			keys = append(keys, models.ProviderKey{
				ProviderKeyID:  item.ID,
				Name:           item.Name,
				Status:         models.KeyStatusActive,
				PartialKeyHint: item.RedactedValue,
				CreatedAt:      time.Unix(item.CreatedAt, 0).UTC(),
			})
		}

		if !payload.HasMore || payload.LastID == "" {
			break
		}
		after = payload.LastID
	}
	return keys, nil
}

type usagePage struct {
	Data []struct {
		StartTime int64 `json:"start_time"`
		EndTime   int64 `json:"end_time"`
		Results   []struct {
			APIKeyID          string `json:"api_key_id"`
			InputTokens       int64  `json:"input_tokens"`
			OutputTokens      int64  `json:"output_tokens"`
			InputCachedTokens int64  `json:"input_cached_tokens"`
		} `json:"results"`
	} `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
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
			"start_time":   []string{strconv.FormatInt(q.StartingAt.UTC().Unix(), 10)},
			"end_time":     []string{strconv.FormatInt(q.EndingAt.UTC().Unix(), 10)},
			"bucket_width": []string{bucketWidth},
			"group_by":     []string{"api_key_id"},
			"limit":        []string{"31"},
		}
		if q.ProviderKeyID != "" {
			query.Set("api_key_ids", q.ProviderKeyID)
		}
		if nextPage != "" {
			query.Set("page", nextPage)
		}

		var payload usagePage
		if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/v1/organization/usage/completions", query, c.headers(adminKey), &payload); err != nil {
			return nil, err
		}

		for _, bucket := range payload.Data {
			out := models.UsageBucket{
				PeriodStart: time.Unix(bucket.StartTime, 0).UTC(),
				PeriodEnd:   time.Unix(bucket.EndTime, 0).UTC(),
			}
			for _, result := range bucket.Results {
				// input_tokens already includes the cached portion; report the
				// uncached remainder so components stay additive.
				input := result.InputTokens - result.InputCachedTokens
				if input < 0 {
					input = 0
				}
				out.Fragments = append(out.Fragments, models.UsageFragment{
					ProviderKeyID:   result.APIKeyID,
					InputTokens:     input,
					OutputTokens:    result.OutputTokens,
					CacheReadTokens: result.InputCachedTokens,
				})
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
