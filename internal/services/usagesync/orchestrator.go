package usagesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/providers"
	"github.com/haoran127/costix/internal/services/keysync"
	"github.com/haoran127/costix/internal/store"
	"github.com/haoran127/costix/internal/timeutil"
)

var (
	ErrAccountDisabled   = errors.New("account is disabled")
	ErrCredentialMissing = errors.New("account has no admin credential")
	ErrInvalidRange      = errors.New("invalid usage window")
)

// ClientRegistry resolves the provider client for a platform.
type ClientRegistry interface {
	For(platform models.Platform) (providers.Client, error)
}

// SyncStore is the slice of the persistence layer the orchestrator drives.
type SyncStore interface {
	UsageStore
	ListKeysByAccount(ctx context.Context, accountID uuid.UUID) ([]models.APIKey, error)
	InsertKey(ctx context.Context, k models.APIKey) (models.APIKey, error)
	UpdateKeyPatch(ctx context.Context, p models.APIKeyPatch) error
	BeginSyncRun(ctx context.Context, accountID uuid.UUID, trigger models.SyncTrigger, action models.SyncAction) (uuid.UUID, error)
	AdvanceSyncRun(ctx context.Context, id uuid.UUID, state models.SyncState) error
	FinishSyncRun(ctx context.Context, id uuid.UUID, state models.SyncState, summary *models.SyncSummary, errMsg string) error
}

// Locker serializes runs per account.
type Locker interface {
	Acquire(ctx context.Context, accountID string) (func(context.Context) error, error)
}

// Metrics receives sync outcome measurements. Implementations must be safe
// for concurrent use.
type Metrics interface {
	ObserveSyncRun(platform string, trigger string, state string, duration time.Duration)
	AddSavedRecords(platform string, n int)
	SetUnmatchedKeys(platform string, n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSyncRun(string, string, string, time.Duration) {}
func (noopMetrics) AddSavedRecords(string, int)                          {}
func (noopMetrics) SetUnmatchedKeys(string, int)                         {}

// Options tune one orchestrator instance.
type Options struct {
	ProviderTimeout time.Duration
	BucketWidth     string
	KeyListLimit    int
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the full sync pipeline for one account at a time:
// key listing, registry reconciliation, usage fetch, aggregation, persist.
type Orchestrator struct {
	store    SyncStore
	registry ClientRegistry
	locker   Locker
	writer   *Writer
	sink     AlertSink
	metrics  Metrics
	logger   *slog.Logger
	opts     Options
}

func NewOrchestrator(st SyncStore, registry ClientRegistry, locker Locker, writer *Writer, sink AlertSink, metrics Metrics, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 60 * time.Second
	}
	if opts.BucketWidth == "" {
		opts.BucketWidth = "1d"
	}
	return &Orchestrator{
		store:    st,
		registry: registry,
		locker:   locker,
		writer:   writer,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Request describes one sync invocation. Zero-valued optional fields fall
// back to the orchestrator's configured defaults.
type Request struct {
	Account models.ProviderAccount
	Trigger models.SyncTrigger
	// Action defaults to ActionSyncUsage. ActionListKeys stops after the
	// key registry is reconciled.
	Action models.SyncAction
	// StartingAt/EndingAt override the usage window; the default is
	// [start of the current UTC month, now).
	StartingAt time.Time
	EndingAt   time.Time
	// BucketWidth overrides the configured bucket width when non-empty.
	BucketWidth string
	// APIKeyID, when set, restricts usage persistence to that local key.
	APIKeyID uuid.UUID
}

// Run executes a full usage sync for account. It returns synclock.ErrLocked
// when a run is already in flight; any other error means the pipeline failed
// before reaching a usable summary. Record-level save failures do not fail
// the run; they ride along in the summary.
func (o *Orchestrator) Run(ctx context.Context, account models.ProviderAccount, trigger models.SyncTrigger) (*models.SyncSummary, error) {
	return o.Sync(ctx, Request{Account: account, Trigger: trigger})
}

// Sync executes one run according to req.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*models.SyncSummary, error) {
	account := req.Account
	if req.Action == "" {
		req.Action = models.ActionSyncUsage
	}
	if req.Action != models.ActionListKeys && req.Action != models.ActionSyncUsage {
		return nil, fmt.Errorf("unknown sync action %q", req.Action)
	}
	if !account.Enabled {
		return nil, ErrAccountDisabled
	}
	if strings.TrimSpace(account.AdminCredential) == "" {
		return nil, ErrCredentialMissing
	}
	started := o.opts.Now().UTC()
	if !req.StartingAt.IsZero() || !req.EndingAt.IsZero() {
		// Apply the same defaults the pipeline would, so a lone override
		// that inverts the window is caught before any work starts.
		startingAt := req.StartingAt.UTC()
		if req.StartingAt.IsZero() {
			startingAt = timeutil.MonthStartUTC(started)
		}
		endingAt := req.EndingAt.UTC()
		if req.EndingAt.IsZero() {
			endingAt = started
		}
		if !startingAt.Before(endingAt) {
			return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange,
				startingAt.Format(time.RFC3339), endingAt.Format(time.RFC3339))
		}
	}
	client, err := o.registry.For(account.Platform)
	if err != nil {
		return nil, err
	}

	release, err := o.locker.Acquire(ctx, account.ID.String())
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			o.logger.Warn("release sync lock", "account_id", account.ID.String(), "error", releaseErr)
		}
	}()

	runID, err := o.store.BeginSyncRun(ctx, account.ID, req.Trigger, req.Action)
	if err != nil {
		return nil, err
	}

	summary, runErr := o.pipeline(ctx, client, req, runID, started)
	state := models.StateDone
	errMsg := ""
	if runErr != nil {
		state = models.StateFailed
		errMsg = runErr.Error()
	}
	// The terminal row write must survive caller cancellation, or the run
	// stays stranded in a non-terminal state forever.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	if err := o.store.FinishSyncRun(fctx, runID, state, summary, errMsg); err != nil {
		o.logger.Error("finish sync run", "run_id", runID.String(), "error", err)
	}
	fcancel()

	o.metrics.ObserveSyncRun(string(account.Platform), string(req.Trigger), string(state), o.opts.Now().UTC().Sub(started))
	if summary != nil {
		o.metrics.AddSavedRecords(string(account.Platform), summary.SavedCount)
		o.metrics.SetUnmatchedKeys(string(account.Platform), summary.UnmatchedKeysCount)
	}
	// Alerts fire only once usage has actually been persisted; failed runs
	// and key-only runs surface through logs and the sync_runs history.
	if state == models.StateDone && req.Action == models.ActionSyncUsage && summary != nil && summary.BucketsCount > 0 {
		o.notify(ctx, account, req.Trigger, state, summary, errMsg)
	}

	if runErr != nil {
		return nil, runErr
	}
	return summary, nil
}

// pipeline walks the state machine. A returned error marks the run failed;
// a non-nil summary with record-level errors is still a successful run.
func (o *Orchestrator) pipeline(ctx context.Context, client providers.Client, req Request, runID uuid.UUID, asOf time.Time) (*models.SyncSummary, error) {
	account := req.Account
	pctx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	providerKeys, err := client.ListKeys(pctx, account.AdminCredential, providers.KeyFilter{Limit: o.opts.KeyListLimit})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list provider keys: %w", err)
	}

	if err := o.store.AdvanceSyncRun(ctx, runID, models.StateReconcilingKeys); err != nil {
		return nil, err
	}
	localKeys, err := o.store.ListKeysByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list local keys: %w", err)
	}
	plan := keysync.Reconcile(account, providerKeys, localKeys, asOf)
	if err := o.store.AdvanceSyncRun(ctx, runID, models.StatePersistingKeys); err != nil {
		return nil, err
	}
	applied := 0
	var keyErrors []models.SaveError
	for _, ins := range plan.Inserts {
		if _, err := o.store.InsertKey(ctx, ins); err != nil {
			// A concurrent run got there first; the key exists either way.
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			// One bad key must not abort the batch.
			keyErrors = append(keyErrors, models.SaveError{Message: fmt.Sprintf("insert key %q: %v", ins.Name, err)})
			continue
		}
		applied++
	}
	for _, patch := range plan.Updates {
		if err := o.store.UpdateKeyPatch(ctx, patch); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			keyErrors = append(keyErrors, models.SaveError{APIKeyID: patch.ID, Message: fmt.Sprintf("update key: %v", err)})
			continue
		}
		applied++
	}

	if req.Action == models.ActionListKeys {
		matched := make([]string, 0, len(providerKeys))
		for _, pk := range providerKeys {
			matched = append(matched, pk.ProviderKeyID)
		}
		return &models.SyncSummary{
			MatchedKeysCount: len(matched),
			SavedCount:       applied,
			SaveErrorsCount:  len(keyErrors),
			SaveErrors:       keyErrors,
			MatchedKeys:      matched,
			UnmatchedKeys:    []string{},
			SyncedAt:         asOf,
		}, nil
	}

	if err := o.store.AdvanceSyncRun(ctx, runID, models.StateFetchingUsage); err != nil {
		return nil, err
	}
	startingAt := timeutil.MonthStartUTC(asOf)
	if !req.StartingAt.IsZero() {
		startingAt = req.StartingAt.UTC()
	}
	endingAt := asOf
	if !req.EndingAt.IsZero() {
		endingAt = req.EndingAt.UTC()
	}
	bucketWidth := o.opts.BucketWidth
	if req.BucketWidth != "" {
		bucketWidth = req.BucketWidth
	}
	query := providers.UsageQuery{
		StartingAt:  startingAt,
		EndingAt:    endingAt,
		BucketWidth: bucketWidth,
	}
	if req.APIKeyID != uuid.Nil {
		for _, k := range localKeys {
			if k.ID == req.APIKeyID && k.ProviderKeyID != nil {
				query.ProviderKeyID = *k.ProviderKeyID
			}
		}
	}
	pctx, cancel = context.WithTimeout(ctx, o.opts.ProviderTimeout)
	buckets, err := client.FetchUsage(pctx, account.AdminCredential, query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	if len(buckets) == 0 {
		// Nothing to aggregate or write; a fresh month looks like this.
		return &models.SyncSummary{
			SaveErrorsCount: len(keyErrors),
			SaveErrors:      keyErrors,
			SyncedAt:        asOf,
		}, nil
	}

	if err := o.store.AdvanceSyncRun(ctx, runID, models.StateAggregating); err != nil {
		return nil, err
	}
	// Reload so keys inserted by this run participate in the mapping.
	localKeys, err = o.store.ListKeysByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("reload local keys: %w", err)
	}
	mapping := make(map[string]uuid.UUID, len(localKeys))
	for _, k := range localKeys {
		if k.ProviderKeyID == nil || *k.ProviderKeyID == "" {
			continue
		}
		if req.APIKeyID != uuid.Nil && k.ID != req.APIKeyID {
			continue
		}
		mapping[*k.ProviderKeyID] = k.ID
	}
	agg := Aggregate(buckets, mapping, asOf)

	if err := o.store.AdvanceSyncRun(ctx, runID, models.StatePersistingUsage); err != nil {
		return nil, err
	}
	result, err := o.writer.Persist(ctx, agg, asOf)
	if err != nil {
		return nil, fmt.Errorf("persist usage: %w", err)
	}

	saveErrors := append(keyErrors, result.Errors...)
	summary := &models.SyncSummary{
		BucketsCount:       agg.BucketsCount,
		UsageKeysCount:     len(agg.UsageKeyIDs),
		MatchedKeysCount:   len(agg.Matched),
		UnmatchedKeysCount: len(agg.Unmatched),
		SavedCount:         result.Saved,
		SaveErrorsCount:    len(saveErrors),
		SaveErrors:         saveErrors,
		MatchedKeys:        agg.Matched,
		UnmatchedKeys:      agg.Unmatched,
		SyncedAt:           asOf,
	}
	return summary, nil
}

func (o *Orchestrator) notify(ctx context.Context, account models.ProviderAccount, trigger models.SyncTrigger, state models.SyncState, summary *models.SyncSummary, errMsg string) {
	if o.sink == nil {
		return
	}
	alert := SyncAlert{
		AccountID:   account.ID,
		AccountName: account.Name,
		Platform:    account.Platform,
		Trigger:     trigger,
		State:       state,
		Summary:     summary,
		Error:       errMsg,
		Timestamp:   o.opts.Now().UTC(),
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.sink.Notify(nctx, alert); err != nil {
		o.logger.Warn("sync alert delivery", "account_id", account.ID.String(), "error", err)
	}
}
