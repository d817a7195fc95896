package usagesync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/haoran127/costix/internal/models"
)

var (
	keyA = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	keyB = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
)

func dayBucket(day time.Time, frags ...models.UsageFragment) models.UsageBucket {
	return models.UsageBucket{
		PeriodStart: day,
		PeriodEnd:   day.Add(24 * time.Hour),
		Fragments:   frags,
	}
}

func TestAggregateSplitsTodayFromPeriod(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := jan1.Add(24 * time.Hour)
	buckets := []models.UsageBucket{
		dayBucket(jan1, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 100, OutputTokens: 40, CacheReadTokens: 7, CacheCreationTokens: 3}),
		dayBucket(jan2, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 10, OutputTokens: 5}),
	}
	mapping := map[string]uuid.UUID{"pk_1": keyA}

	// Run "as of" Jan 1: only the first bucket is today.
	agg := Aggregate(buckets, mapping, jan1.Add(18*time.Hour))
	require.Equal(t, 2, agg.BucketsCount)
	require.Equal(t, int64(165), agg.Period[keyA].TotalTokens)
	require.Equal(t, int64(150), agg.Today[keyA].TotalTokens)

	// Same data as of Jan 2: the second bucket is today now.
	agg = Aggregate(buckets, mapping, jan2.Add(time.Hour))
	require.Equal(t, int64(165), agg.Period[keyA].TotalTokens)
	require.Equal(t, int64(15), agg.Today[keyA].TotalTokens)
}

func TestAggregateSumsDuplicateFragments(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	buckets := []models.UsageBucket{
		dayBucket(jan1,
			models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 10, CostCents: 5},
			models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 20, CostCents: 7},
		),
	}
	agg := Aggregate(buckets, map[string]uuid.UUID{"pk_1": keyA}, jan1)
	require.Equal(t, int64(30), agg.Period[keyA].InputTokens)
	require.Equal(t, int64(12), agg.Period[keyA].CostCents)
}

func TestAggregateOrderIndependent(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := jan1.Add(24 * time.Hour)
	b1 := dayBucket(jan1, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 100})
	b2 := dayBucket(jan2, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 50})
	mapping := map[string]uuid.UUID{"pk_1": keyA}

	forward := Aggregate([]models.UsageBucket{b1, b2}, mapping, jan2)
	reversed := Aggregate([]models.UsageBucket{b2, b1}, mapping, jan2)
	require.Equal(t, forward.Period[keyA], reversed.Period[keyA])
	require.Equal(t, forward.Today[keyA], reversed.Today[keyA])
}

func TestAggregateSurfacesUnmatchedKeys(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	buckets := []models.UsageBucket{
		dayBucket(jan1,
			models.UsageFragment{ProviderKeyID: "pk_known", InputTokens: 10},
			models.UsageFragment{ProviderKeyID: "pk_stranger", InputTokens: 99},
		),
	}
	agg := Aggregate(buckets, map[string]uuid.UUID{"pk_known": keyB}, jan1)

	require.Equal(t, []string{"pk_known", "pk_stranger"}, agg.UsageKeyIDs)
	require.Equal(t, []string{"pk_known"}, agg.Matched)
	require.Equal(t, []string{"pk_stranger"}, agg.Unmatched)
	// Unmatched usage never reaches the totals.
	require.Len(t, agg.Period, 1)
	require.Equal(t, int64(10), agg.Period[keyB].InputTokens)
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate(nil, nil, time.Now().UTC())
	require.Zero(t, agg.BucketsCount)
	require.Empty(t, agg.Period)
	require.Empty(t, agg.Unmatched)
}
