package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageFragment is one key's share of a usage bucket, already normalized to
// the canonical token components.
type UsageFragment struct {
	ProviderKeyID       string
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	CostCents           int64
}

func (f UsageFragment) TotalTokens() int64 {
	return f.InputTokens + f.OutputTokens + f.CacheReadTokens + f.CacheCreationTokens
}

// UsageBucket is a provider-reported aggregate for a fixed time window,
// broken down by key. Produced fresh on every fetch, never persisted.
type UsageBucket struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Fragments   []UsageFragment
}

// Window names the aggregation period an aggregate covers.
type Window string

const (
	WindowToday  Window = "today"
	WindowPeriod Window = "period"
)

// UsageAggregate is the computed per-key total for one window.
type UsageAggregate struct {
	APIKeyID            uuid.UUID
	Window              Window
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	TotalTokens         int64
	CostCents           int64
}

type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// UsageRecord is the persisted monthly usage row for one key. Identity is
// (APIKeyID, PeriodStart) with PeriodStart normalized to the first day of
// the UTC month; totals are absolute, recomputed on every sync.
type UsageRecord struct {
	ID                       uuid.UUID
	APIKeyID                 uuid.UUID
	PeriodStart              time.Time
	TokenUsageDaily          int64
	TokenUsageMonthly        int64
	TokenUsageTotal          int64
	PromptTokensTotal        int64
	CompletionTokensTotal    int64
	CacheReadTokensTotal     int64
	CacheCreationTokensTotal int64
	CostCents                int64
	SyncStatus               SyncStatus
	SyncedAt                 time.Time
}

// SaveError records a single failed usage-record write.
type SaveError struct {
	APIKeyID    uuid.UUID `json:"api_key_id"`
	PeriodStart string    `json:"period_start"`
	Message     string    `json:"message"`
}

// SyncSummary is the structured result of one orchestrator run.
type SyncSummary struct {
	BucketsCount       int         `json:"buckets_count"`
	UsageKeysCount     int         `json:"usage_keys_count"`
	MatchedKeysCount   int         `json:"matched_keys_count"`
	UnmatchedKeysCount int         `json:"unmatched_keys_count"`
	SavedCount         int         `json:"saved_count"`
	SaveErrorsCount    int         `json:"save_errors_count,omitempty"`
	SaveErrors         []SaveError `json:"save_errors,omitempty"`
	MatchedKeys        []string    `json:"matched_keys"`
	UnmatchedKeys      []string    `json:"unmatched_keys"`
	SyncedAt           time.Time   `json:"synced_at"`
}
