package usagesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/providers"
)

type stubSyncStore struct {
	stubUsageStore
	keys       []models.APIKey
	inserted   []models.APIKey
	patched    []models.APIKeyPatch
	insertErr  error
	action     models.SyncAction
	states     []models.SyncState
	finished   models.SyncState
	finishedAt *models.SyncSummary
	finishErr  string
}

func (s *stubSyncStore) ListKeysByAccount(context.Context, uuid.UUID) ([]models.APIKey, error) {
	out := make([]models.APIKey, 0, len(s.keys)+len(s.inserted))
	out = append(out, s.keys...)
	out = append(out, s.inserted...)
	return out, nil
}

func (s *stubSyncStore) InsertKey(_ context.Context, k models.APIKey) (models.APIKey, error) {
	if s.insertErr != nil {
		return models.APIKey{}, s.insertErr
	}
	k.ID = uuid.New()
	s.inserted = append(s.inserted, k)
	return k, nil
}

func (s *stubSyncStore) UpdateKeyPatch(_ context.Context, p models.APIKeyPatch) error {
	s.patched = append(s.patched, p)
	return nil
}

func (s *stubSyncStore) BeginSyncRun(_ context.Context, _ uuid.UUID, _ models.SyncTrigger, action models.SyncAction) (uuid.UUID, error) {
	s.action = action
	s.states = append(s.states, models.StateFetchingKeys)
	return uuid.New(), nil
}

func (s *stubSyncStore) AdvanceSyncRun(_ context.Context, _ uuid.UUID, state models.SyncState) error {
	s.states = append(s.states, state)
	return nil
}

func (s *stubSyncStore) FinishSyncRun(ctx context.Context, _ uuid.UUID, state models.SyncState, summary *models.SyncSummary, errMsg string) error {
	// The real store would refuse the write on a dead context.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.finished = state
	s.finishedAt = summary
	s.finishErr = errMsg
	return nil
}

type stubClient struct {
	platform models.Platform
	keys     []models.ProviderKey
	buckets  []models.UsageBucket
	keysErr  error
	usageErr error
	onUsage  func(providers.UsageQuery)
}

func (c *stubClient) Platform() models.Platform { return c.platform }

func (c *stubClient) ListKeys(context.Context, string, providers.KeyFilter) ([]models.ProviderKey, error) {
	return c.keys, c.keysErr
}

func (c *stubClient) FetchUsage(_ context.Context, _ string, query providers.UsageQuery) ([]models.UsageBucket, error) {
	if c.onUsage != nil {
		c.onUsage(query)
	}
	return c.buckets, c.usageErr
}

type stubRegistry struct{ client *stubClient }

func (r stubRegistry) For(models.Platform) (providers.Client, error) { return r.client, nil }

type stubLocker struct {
	held   bool
	locked bool
}

func (l *stubLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	if l.locked {
		return nil, errors.New("sync already in progress for account")
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		return nil
	}, nil
}

type captureSink struct{ alerts []SyncAlert }

func (c *captureSink) Notify(_ context.Context, alert SyncAlert) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

func enabledAccount() models.ProviderAccount {
	return models.ProviderAccount{
		ID:              uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		TenantID:        uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Platform:        models.PlatformClaude,
		Name:            "prod org",
		AdminCredential: "sk-ant-admin",
		Enabled:         true,
	}
}

func newTestOrchestrator(st *stubSyncStore, client *stubClient, sink AlertSink, asOf time.Time) (*Orchestrator, *stubLocker) {
	locker := &stubLocker{}
	o := NewOrchestrator(st, stubRegistry{client}, locker, NewWriter(st, 0), sink, nil, nil, Options{
		Now: func() time.Time { return asOf },
	})
	return o, locker
}

func TestRunFullPipeline(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := jan1.Add(24 * time.Hour)

	st := &stubSyncStore{}
	client := &stubClient{
		platform: models.PlatformClaude,
		keys: []models.ProviderKey{
			{ProviderKeyID: "pk_1", Name: "prod", Status: models.KeyStatusActive, PartialKeyHint: "sk-ant-REDACTED"},
		},
		buckets: []models.UsageBucket{
			dayBucket(jan1, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 100, OutputTokens: 40, CacheReadTokens: 7, CacheCreationTokens: 3}),
			dayBucket(jan2, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 10, OutputTokens: 5}),
		},
	}
	sink := &captureSink{}
	o, locker := newTestOrchestrator(st, client, sink, asOf)

	summary, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerManual)
	require.NoError(t, err)
	require.NotNil(t, summary)

	// The unknown provider key was registered before aggregation.
	require.Len(t, st.inserted, 1)
	require.Equal(t, "pk_1", *st.inserted[0].ProviderKeyID)

	require.Equal(t, 2, summary.BucketsCount)
	require.Equal(t, 1, summary.MatchedKeysCount)
	require.Zero(t, summary.UnmatchedKeysCount)
	require.Equal(t, 1, summary.SavedCount)
	require.Equal(t, []string{"pk_1"}, summary.MatchedKeys)

	// Monthly totals span both buckets; daily covers only Jan 2.
	rec := st.records[0]
	require.Equal(t, jan1, rec.PeriodStart)
	require.Equal(t, int64(165), rec.TokenUsageMonthly)
	require.Equal(t, int64(15), rec.TokenUsageDaily)

	require.Equal(t, []models.SyncState{
		models.StateFetchingKeys,
		models.StateReconcilingKeys,
		models.StatePersistingKeys,
		models.StateFetchingUsage,
		models.StateAggregating,
		models.StatePersistingUsage,
	}, st.states)
	require.Equal(t, models.StateDone, st.finished)
	require.False(t, locker.held, "lock must be released")

	require.Len(t, sink.alerts, 1)
	require.Equal(t, models.StateDone, sink.alerts[0].State)
	require.Empty(t, sink.alerts[0].Error)
}

func TestSyncListKeysActionStopsBeforeUsage(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	st := &stubSyncStore{}
	client := &stubClient{
		platform: models.PlatformOpenAI,
		keys: []models.ProviderKey{
			{ProviderKeyID: "key_a", Name: "a", Status: models.KeyStatusActive},
			{ProviderKeyID: "key_b", Name: "b", Status: models.KeyStatusActive},
		},
		// If the usage stage ran this would blow up the bucket count.
		buckets: []models.UsageBucket{dayBucket(asOf, models.UsageFragment{ProviderKeyID: "key_a", InputTokens: 99})},
	}
	sink := &captureSink{}
	o, _ := newTestOrchestrator(st, client, sink, asOf)

	summary, err := o.Sync(context.Background(), Request{
		Account: enabledAccount(),
		Trigger: models.SyncTriggerManual,
		Action:  models.ActionListKeys,
	})
	require.NoError(t, err)
	require.Equal(t, models.ActionListKeys, st.action)
	require.Len(t, st.inserted, 2)
	require.Zero(t, summary.BucketsCount)
	require.Equal(t, 2, summary.MatchedKeysCount)
	require.Equal(t, 2, summary.SavedCount)
	require.Equal(t, []string{"key_a", "key_b"}, summary.MatchedKeys)
	require.NotContains(t, st.states, models.StateFetchingUsage)
	require.Equal(t, models.StateDone, st.finished)
	require.Empty(t, st.records)
	// No usage was persisted, so the alert hook stays quiet.
	require.Empty(t, sink.alerts)
}

func TestSyncRejectsUnknownAction(t *testing.T) {
	st := &stubSyncStore{}
	o, _ := newTestOrchestrator(st, &stubClient{platform: models.PlatformClaude}, nil, time.Now().UTC())

	_, err := o.Sync(context.Background(), Request{Account: enabledAccount(), Action: "reindex"})
	require.Error(t, err)
	require.Empty(t, st.states)
}

func TestSyncWindowOverride(t *testing.T) {
	asOf := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	var gotQuery providers.UsageQuery
	st := &stubSyncStore{}
	client := &stubClient{
		platform: models.PlatformClaude,
		keys:     []models.ProviderKey{{ProviderKeyID: "pk_1", Status: models.KeyStatusActive}},
		onUsage:  func(q providers.UsageQuery) { gotQuery = q },
	}
	o, _ := newTestOrchestrator(st, client, nil, asOf)

	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := o.Sync(context.Background(), Request{
		Account:     enabledAccount(),
		Trigger:     models.SyncTriggerManual,
		StartingAt:  start,
		EndingAt:    end,
		BucketWidth: "1h",
	})
	require.NoError(t, err)
	require.Equal(t, start, gotQuery.StartingAt)
	require.Equal(t, end, gotQuery.EndingAt)
	require.Equal(t, "1h", gotQuery.BucketWidth)
}

func TestSyncSingleKeyFilter(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	pk1, pk2 := "pk_1", "pk_2"
	keyID1, keyID2 := uuid.New(), uuid.New()
	account := enabledAccount()
	st := &stubSyncStore{keys: []models.APIKey{
		{ID: keyID1, PlatformAccountID: account.ID, Platform: account.Platform, ProviderKeyID: &pk1, Name: "one", Status: models.KeyStatusActive},
		{ID: keyID2, PlatformAccountID: account.ID, Platform: account.Platform, ProviderKeyID: &pk2, Name: "two", Status: models.KeyStatusActive},
	}}
	var gotQuery providers.UsageQuery
	client := &stubClient{
		platform: account.Platform,
		keys: []models.ProviderKey{
			{ProviderKeyID: pk1, Name: "one", Status: models.KeyStatusActive},
			{ProviderKeyID: pk2, Name: "two", Status: models.KeyStatusActive},
		},
		buckets: []models.UsageBucket{
			dayBucket(jan1,
				models.UsageFragment{ProviderKeyID: pk1, InputTokens: 10},
				models.UsageFragment{ProviderKeyID: pk2, InputTokens: 20},
			),
		},
		onUsage: func(q providers.UsageQuery) { gotQuery = q },
	}
	o, _ := newTestOrchestrator(st, client, nil, asOf)

	summary, err := o.Sync(context.Background(), Request{
		Account:  account,
		Trigger:  models.SyncTriggerManual,
		APIKeyID: keyID2,
	})
	require.NoError(t, err)
	require.Equal(t, pk2, gotQuery.ProviderKeyID)
	// Only the filtered key is persisted; the other fragment shows up as
	// unmatched rather than silently dropped.
	require.Equal(t, 1, summary.SavedCount)
	require.Len(t, st.records, 1)
	require.Equal(t, keyID2, st.records[0].APIKeyID)
	require.Equal(t, []string{pk1}, summary.UnmatchedKeys)
}

func TestSyncKeyWriteFailureDoesNotAbortRun(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	st := &stubSyncStore{insertErr: errors.New("key table unavailable")}
	client := &stubClient{
		platform: models.PlatformClaude,
		keys:     []models.ProviderKey{{ProviderKeyID: "pk_1", Name: "prod", Status: models.KeyStatusActive}},
		buckets: []models.UsageBucket{
			dayBucket(jan1, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 5}),
		},
	}
	o, _ := newTestOrchestrator(st, client, nil, asOf)

	summary, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerManual)
	require.NoError(t, err)
	require.Equal(t, models.StateDone, st.finished)
	require.Equal(t, 1, summary.SaveErrorsCount)
	require.Contains(t, summary.SaveErrors[0].Message, "key table unavailable")
	// The key never made it locally, so its usage surfaces as unmatched.
	require.Equal(t, []string{"pk_1"}, summary.UnmatchedKeys)
	require.Zero(t, summary.SavedCount)
}

func TestRunZeroBucketsShortCircuits(t *testing.T) {
	st := &stubSyncStore{}
	client := &stubClient{platform: models.PlatformOpenAI}
	sink := &captureSink{}
	o, _ := newTestOrchestrator(st, client, sink, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	summary, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerAuto)
	require.NoError(t, err)
	require.Zero(t, summary.BucketsCount)
	require.Zero(t, summary.SavedCount)
	require.Empty(t, st.records)
	// Aggregation and persist states are never entered, and nothing was
	// written, so no alert goes out either.
	require.NotContains(t, st.states, models.StateAggregating)
	require.Equal(t, models.StateDone, st.finished)
	require.Empty(t, sink.alerts)
}

func TestRunProviderFailureMarksRunFailed(t *testing.T) {
	st := &stubSyncStore{}
	client := &stubClient{platform: models.PlatformClaude, usageErr: &providers.ProviderError{Platform: models.PlatformClaude, Status: 401, Message: "invalid x-api-key"}}
	sink := &captureSink{}
	o, locker := newTestOrchestrator(st, client, sink, time.Now().UTC())

	_, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerManual)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch usage")
	require.Equal(t, models.StateFailed, st.finished)
	require.NotEmpty(t, st.finishErr)
	require.False(t, locker.held)
	// Failed runs surface through logs and sync_runs, not the alert hook.
	require.Empty(t, sink.alerts)
}

func TestRunCanceledMidFlightStillRecordsTerminalState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := &stubSyncStore{}
	client := &stubClient{
		platform: models.PlatformClaude,
		keys:     []models.ProviderKey{{ProviderKeyID: "pk_1", Status: models.KeyStatusActive}},
		usageErr: context.Canceled,
		onUsage:  func(providers.UsageQuery) { cancel() },
	}
	o, locker := newTestOrchestrator(st, client, nil, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	_, err := o.Run(ctx, enabledAccount(), models.SyncTriggerAuto)
	require.Error(t, err)
	// Even with the caller gone, the run row reaches a terminal state
	// instead of sitting in fetching_usage forever.
	require.Equal(t, models.StateFailed, st.finished)
	require.NotEmpty(t, st.finishErr)
	require.False(t, locker.held)
}

func TestSyncMissingCredential(t *testing.T) {
	st := &stubSyncStore{}
	o, locker := newTestOrchestrator(st, &stubClient{platform: models.PlatformClaude}, nil, time.Now().UTC())

	account := enabledAccount()
	account.AdminCredential = "   "
	_, err := o.Run(context.Background(), account, models.SyncTriggerManual)
	require.ErrorIs(t, err, ErrCredentialMissing)
	require.Empty(t, st.states, "no run row without a credential")
	require.False(t, locker.held)
}

func TestSyncInvalidWindow(t *testing.T) {
	asOf := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	st := &stubSyncStore{}
	o, _ := newTestOrchestrator(st, &stubClient{platform: models.PlatformClaude}, nil, asOf)

	// Explicit start after explicit end.
	_, err := o.Sync(context.Background(), Request{
		Account:    enabledAccount(),
		Trigger:    models.SyncTriggerManual,
		StartingAt: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		EndingAt:   time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrInvalidRange)

	// A lone end override before the default month start inverts the
	// window just the same.
	_, err = o.Sync(context.Background(), Request{
		Account:  enabledAccount(),
		Trigger:  models.SyncTriggerManual,
		EndingAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrInvalidRange)

	require.Empty(t, st.states, "no run row for a rejected window")
}

func TestRunDisabledAccount(t *testing.T) {
	st := &stubSyncStore{}
	o, _ := newTestOrchestrator(st, &stubClient{platform: models.PlatformClaude}, nil, time.Now().UTC())

	account := enabledAccount()
	account.Enabled = false
	_, err := o.Run(context.Background(), account, models.SyncTriggerManual)
	require.ErrorIs(t, err, ErrAccountDisabled)
	require.Empty(t, st.states, "no run row for disabled accounts")
}

func TestRunLockedAccount(t *testing.T) {
	st := &stubSyncStore{}
	locker := &stubLocker{locked: true}
	o := NewOrchestrator(st, stubRegistry{&stubClient{platform: models.PlatformClaude}}, locker, NewWriter(st, 0), nil, nil, nil, Options{})

	_, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerManual)
	require.Error(t, err)
	require.Empty(t, st.states)
}

func TestRunSaveErrorsDoNotFailRun(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	st := &stubSyncStore{}
	client := &stubClient{
		platform: models.PlatformClaude,
		keys:     []models.ProviderKey{{ProviderKeyID: "pk_1", Name: "prod", Status: models.KeyStatusActive}},
		buckets: []models.UsageBucket{
			dayBucket(jan1, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 5}),
		},
	}
	o, _ := newTestOrchestrator(st, client, nil, asOf)

	summary, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.SavedCount)

	// Now make every upsert fail and re-run: still a successful pipeline,
	// the failure rides along in the summary.
	st2 := &stubSyncStore{}
	st2.upsertErr = errors.New("write refused")
	client2 := &stubClient{platform: client.platform, keys: client.keys, buckets: client.buckets}
	o2, _ := newTestOrchestrator(st2, client2, nil, asOf)
	summary, err = o2.Run(context.Background(), enabledAccount(), models.SyncTriggerManual)
	require.NoError(t, err)
	require.Zero(t, summary.SavedCount)
	require.Equal(t, 1, summary.SaveErrorsCount)
	require.Contains(t, summary.SaveErrors[0].Message, "write refused")
	require.Equal(t, models.StateDone, st2.finished)
}

func TestRunTwiceConvergesToOneRecordPerKey(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	st := &stubSyncStore{}
	client := &stubClient{
		platform: models.PlatformClaude,
		keys:     []models.ProviderKey{{ProviderKeyID: "pk_1", Name: "prod", Status: models.KeyStatusActive}},
		buckets: []models.UsageBucket{
			dayBucket(jan1, models.UsageFragment{ProviderKeyID: "pk_1", InputTokens: 100, OutputTokens: 40}),
		},
	}
	o, _ := newTestOrchestrator(st, client, nil, asOf)

	_, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerAuto)
	require.NoError(t, err)
	require.Len(t, st.records, 1)
	first := st.records[0]

	// Replaying the same provider data must converge on the same row, not
	// stack a second one for the same key and period.
	summary, err := o.Run(context.Background(), enabledAccount(), models.SyncTriggerAuto)
	require.NoError(t, err)
	require.Equal(t, 1, summary.SavedCount)
	require.Len(t, st.records, 1)
	require.Equal(t, first, st.records[0])
	require.Len(t, st.inserted, 1, "the key is registered once")
}
