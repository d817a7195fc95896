// Package usagesync turns provider usage buckets into persisted monthly
// records and drives the per-account sync pipeline end to end.
package usagesync

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/timeutil"
)

// Aggregation is the in-memory result of folding a fetch's buckets. Period
// totals cover every bucket in the window; Today totals cover only buckets
// whose start falls on asOf's UTC day. All sums are plain integer adds, so
// bucket and fragment order never changes the result.
type Aggregation struct {
	Period       map[uuid.UUID]models.UsageAggregate
	Today        map[uuid.UUID]models.UsageAggregate
	BucketsCount int
	// Distinct provider key ids seen in the usage data, sorted.
	UsageKeyIDs []string
	// Provider key ids with usage but no local registry match, sorted.
	Unmatched []string
	// Provider key ids that did match, sorted.
	Matched []string
}

// Aggregate folds buckets into per-key totals using mapping
// (provider_key_id -> local api key id). Fragments for unmapped keys are
// counted and surfaced, never dropped silently.
func Aggregate(buckets []models.UsageBucket, mapping map[string]uuid.UUID, asOf time.Time) Aggregation {
	agg := Aggregation{
		Period:       make(map[uuid.UUID]models.UsageAggregate),
		Today:        make(map[uuid.UUID]models.UsageAggregate),
		BucketsCount: len(buckets),
	}

	seen := make(map[string]struct{})
	unmatched := make(map[string]struct{})
	matched := make(map[string]struct{})
	for _, bucket := range buckets {
		isToday := timeutil.SameUTCDay(bucket.PeriodStart, asOf)
		for _, frag := range bucket.Fragments {
			seen[frag.ProviderKeyID] = struct{}{}
			keyID, ok := mapping[frag.ProviderKeyID]
			if !ok {
				unmatched[frag.ProviderKeyID] = struct{}{}
				continue
			}
			matched[frag.ProviderKeyID] = struct{}{}
			addFragment(agg.Period, keyID, models.WindowPeriod, frag)
			if isToday {
				addFragment(agg.Today, keyID, models.WindowToday, frag)
			}
		}
	}

	agg.UsageKeyIDs = sortedKeys(seen)
	agg.Unmatched = sortedKeys(unmatched)
	agg.Matched = sortedKeys(matched)
	return agg
}

func addFragment(totals map[uuid.UUID]models.UsageAggregate, keyID uuid.UUID, window models.Window, frag models.UsageFragment) {
	cur := totals[keyID]
	cur.APIKeyID = keyID
	cur.Window = window
	cur.InputTokens += frag.InputTokens
	cur.OutputTokens += frag.OutputTokens
	cur.CacheReadTokens += frag.CacheReadTokens
	cur.CacheCreationTokens += frag.CacheCreationTokens
	cur.TotalTokens += frag.TotalTokens()
	cur.CostCents += frag.CostCents
	totals[keyID] = cur
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
