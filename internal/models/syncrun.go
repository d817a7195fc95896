package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncTrigger records what started a sync run.
type SyncTrigger string

const (
	SyncTriggerManual SyncTrigger = "manual"
	SyncTriggerAuto   SyncTrigger = "auto"
)

// SyncAction selects how much of the pipeline a run executes: key listing
// only, or the full usage sync (which includes key listing).
type SyncAction string

const (
	ActionListKeys  SyncAction = "list_keys"
	ActionSyncUsage SyncAction = "sync_usage"
)

// SyncState is the orchestrator's pipeline position. A run advances through
// the states in order and terminates in either StateDone or StateFailed.
type SyncState string

const (
	StateFetchingKeys    SyncState = "fetching_keys"
	StateReconcilingKeys SyncState = "reconciling_keys"
	StatePersistingKeys  SyncState = "persisting_keys"
	StateFetchingUsage   SyncState = "fetching_usage"
	StateAggregating     SyncState = "aggregating"
	StatePersistingUsage SyncState = "persisting_usage"
	StateDone            SyncState = "done"
	StateFailed          SyncState = "failed"
)

// SyncRun is the persisted audit row for one orchestrator invocation.
type SyncRun struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Trigger    SyncTrigger
	Action     SyncAction
	State      SyncState
	Summary    *SyncSummary
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}
