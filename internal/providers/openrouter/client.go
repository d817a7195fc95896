// Package openrouter implements the provisioning-API client for OpenRouter.
// Keys are identified by their hash, and usage comes from the daily activity
// feed as USD amounts rather than a bucketed token report.
package openrouter

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/providers"
)

const (
	defaultBaseURL = "https://openrouter.ai"
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

func (c *Client) Platform() models.Platform { return models.PlatformOpenRouter }

func (c *Client) headers(adminKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminKey}
}

type keyListPage struct {
	Data []struct {
		Hash      string `json:"hash"`
		Name      string `json:"name"`
		Label     string `json:"label"`
		Disabled  bool   `json:"disabled"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
}

func (c *Client) ListKeys(ctx context.Context, adminKey string, filter providers.KeyFilter) ([]models.ProviderKey, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var keys []models.ProviderKey
	offset := 0
	for page := 0; page < maxPages; page++ {
		query := url.Values{
			"include_disabled": []string{"true"},
			"offset":           []string{strconv.Itoa(offset)},
		}

		var payload keyListPage
		if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/api/v1/keys", query, c.headers(adminKey), &payload); err != nil {
			return nil, err
		}

		for _, item := range payload.Data {
			status := models.KeyStatusActive
			if item.Disabled {
				status = models.KeyStatusInactive
			}
			createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
			keys = append(keys, models.ProviderKey{
				ProviderKeyID:  item.Hash,
				Name:           item.Name,
				Status:         status,
				PartialKeyHint: item.Label,
				CreatedAt:      createdAt,
			})
		}

		// No has_more marker; a short page means we're done.
		if len(payload.Data) < limit {
			break
		}
		offset += len(payload.Data)
	}
	return keys, nil
}

type activityPage struct {
	Data []activityRow `json:"data"`
}

type activityRow struct {
	Date             string  `json:"date"`
	APIKeyHash       string  `json:"api_key_hash"`
	Usage            float64 `json:"usage"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
}

// usdToCents converts the activity feed's float USD amount to integer cents,
// rounding half away from zero through decimal to dodge float drift.
func usdToCents(usd float64) int64 {
	return decimal.NewFromFloat(usd).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FetchUsage adapts the flat per-model activity feed into daily buckets:
// rows are filtered to [StartingAt, EndingAt), grouped by date, and each
// key's model rows are folded into a single fragment.
func (c *Client) FetchUsage(ctx context.Context, adminKey string, q providers.UsageQuery) ([]models.UsageBucket, error) {
	var payload activityPage
	if err := providers.GetJSON(ctx, c.client, c.Platform(), c.baseURL+"/api/v1/activity", nil, c.headers(adminKey), &payload); err != nil {
		return nil, err
	}

	type fragKey struct {
		day string
		key string
	}
	frags := make(map[fragKey]*models.UsageFragment)
	days := make(map[string]struct{})
	for _, row := range payload.Data {
		day, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			continue
		}
		if day.Before(q.StartingAt.UTC().Truncate(24*time.Hour)) || !day.Before(q.EndingAt.UTC()) {
			continue
		}
		if q.ProviderKeyID != "" && row.APIKeyHash != q.ProviderKeyID {
			continue
		}

		fk := fragKey{day: row.Date, key: row.APIKeyHash}
		frag, ok := frags[fk]
		if !ok {
			frag = &models.UsageFragment{ProviderKeyID: row.APIKeyHash}
			frags[fk] = frag
			days[row.Date] = struct{}{}
		}
		frag.InputTokens += row.PromptTokens
		frag.OutputTokens += row.CompletionTokens
		frag.CostCents += usdToCents(row.Usage)
	}

	ordered := make([]string, 0, len(days))
	for day := range days {
		ordered = append(ordered, day)
	}
	sort.Strings(ordered)

	buckets := make([]models.UsageBucket, 0, len(ordered))
	for _, day := range ordered {
		start, _ := time.Parse("2006-01-02", day)
		bucket := models.UsageBucket{
			PeriodStart: start.UTC(),
			PeriodEnd:   start.UTC().Add(24 * time.Hour),
		}
		var keyIDs []string
		for fk := range frags {
			if fk.day == day {
				keyIDs = append(keyIDs, fk.key)
			}
		}
		sort.Strings(keyIDs)
		for _, id := range keyIDs {
			bucket.Fragments = append(bucket.Fragments, *frags[fragKey{day: day, key: id}])
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}
