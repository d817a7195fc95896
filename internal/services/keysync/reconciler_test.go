package keysync

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
)

func strPtr(s string) *string { return &s }

func testAccount() models.ProviderAccount {
	return models.ProviderAccount{
		ID:       uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		TenantID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Platform: models.PlatformClaude,
	}
}

func TestReconcileInsertsUnknownKeys(t *testing.T) {
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	account := testAccount()
	plan := Reconcile(account, []models.ProviderKey{
		{ProviderKeyID: "apikey_1", Name: "prod", Status: models.KeyStatusActive, WorkspaceID: "ws_1", PartialKeyHint: "sk-ant-REDACTED"},
	}, nil, now)

	if len(plan.Inserts) != 1 || len(plan.Updates) != 0 {
		t.Fatalf("plan = %d inserts %d updates", len(plan.Inserts), len(plan.Updates))
	}
	ins := plan.Inserts[0]
	if ins.ProviderKeyID == nil || *ins.ProviderKeyID != "apikey_1" {
		t.Fatalf("provider key id not carried: %+v", ins)
	}
	if ins.KeyPrefix != "sk-ant-api03-ab" || ins.KeySuffix != "1234WXYZ" {
		t.Fatalf("masked parts wrong: %q %q", ins.KeyPrefix, ins.KeySuffix)
	}
	if ins.TenantID != account.TenantID || ins.PlatformAccountID != account.ID {
		t.Fatalf("account attribution wrong: %+v", ins)
	}
	if ins.LastSyncedAt == nil || !ins.LastSyncedAt.Equal(now) {
		t.Fatalf("last_synced_at not stamped")
	}
}

func TestReconcileMatchesByProviderKeyIDNotName(t *testing.T) {
	now := time.Now().UTC()
	existingID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	local := []models.APIKey{{
		ID:            existingID,
		ProviderKeyID: strPtr("apikey_1"),
		Name:          "old name",
		Status:        models.KeyStatusActive,
	}}

	// Same provider key, renamed on the console.
	plan := Reconcile(testAccount(), []models.ProviderKey{
		{ProviderKeyID: "apikey_1", Name: "renamed", Status: models.KeyStatusInactive},
	}, local, now)

	if len(plan.Inserts) != 0 {
		t.Fatalf("rename must not create a new key")
	}
	if len(plan.Updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(plan.Updates))
	}
	up := plan.Updates[0]
	if up.ID != existingID || up.Name != "renamed" || up.Status != models.KeyStatusInactive {
		t.Fatalf("unexpected patch: %+v", up)
	}
}

func TestReconcileIgnoresManualImportsAndMissingKeys(t *testing.T) {
	now := time.Now().UTC()
	local := []models.APIKey{
		{ID: uuid.New(), ProviderKeyID: nil, Name: "manually imported"},
		{ID: uuid.New(), ProviderKeyID: strPtr("apikey_gone"), Name: "revoked upstream"},
	}

	plan := Reconcile(testAccount(), nil, local, now)
	if len(plan.Inserts) != 0 || len(plan.Updates) != 0 {
		t.Fatalf("keys absent from the listing must be left untouched: %+v", plan)
	}
}

func TestReconcileEmptyHintFallsBackToPlatformPrefix(t *testing.T) {
	plan := Reconcile(testAccount(), []models.ProviderKey{
		{ProviderKeyID: "apikey_1", Name: "no hint", Status: models.KeyStatusActive},
	}, nil, time.Now().UTC())

	if plan.Inserts[0].KeyPrefix != "sk-ant-" || plan.Inserts[0].KeySuffix != "" {
		t.Fatalf("fallback prefix wrong: %q %q", plan.Inserts[0].KeyPrefix, plan.Inserts[0].KeySuffix)
	}
}
