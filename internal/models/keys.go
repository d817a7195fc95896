package models

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies an upstream LLM provider with an admin API.
type Platform string

const (
	PlatformOpenAI     Platform = "openai"
	PlatformClaude     Platform = "claude"
	PlatformOpenRouter Platform = "openrouter"
	PlatformVolcengine Platform = "volcengine"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformOpenAI, PlatformClaude, PlatformOpenRouter, PlatformVolcengine:
		return true
	}
	return false
}

type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusInactive KeyStatus = "inactive"
)

// ProviderKey is a key as reported by a provider's admin listing endpoint.
// Identity is ProviderKeyID; Name is mutable and never used as a join key.
type ProviderKey struct {
	ProviderKeyID  string
	Name           string
	Status         KeyStatus
	WorkspaceID    string
	PartialKeyHint string
	CreatedAt      time.Time
}

// APIKey is the locally persisted record for a tracked provider key.
// ProviderKeyID is nil for manually imported keys that were never observed
// through a provider listing.
type APIKey struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Platform          Platform
	PlatformAccountID uuid.UUID
	ProviderKeyID     *string
	Name              string
	Status            KeyStatus
	KeyPrefix         string
	KeySuffix         string
	WorkspaceID       *string
	Owner             *string
	BusinessTag       *string
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// APIKeyPatch carries the provider-owned fields a list sync may update.
// Owner and BusinessTag are user-edited and deliberately absent.
type APIKeyPatch struct {
	ID           uuid.UUID
	Name         string
	Status       KeyStatus
	WorkspaceID  *string
	LastSyncedAt time.Time
}

// ProviderAccount is a configured provider organization whose admin
// credential is used for key listing and usage reports.
type ProviderAccount struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Platform        Platform
	Name            string
	AdminCredential string
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
