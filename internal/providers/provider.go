// Package providers defines the uniform client contract the sync pipeline
// speaks to every upstream LLM vendor, plus shared HTTP plumbing. Each
// vendor's field-name drift is normalized inside its own sub-package; the
// rest of the system only ever sees models.ProviderKey and models.UsageBucket.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/haoran127/costix/internal/models"
)

// KeyFilter narrows a key listing request.
type KeyFilter struct {
	Limit  int
	Status string
}

// UsageQuery describes one usage-report fetch. StartingAt/EndingAt are
// half-open [start, end) bounds; BucketWidth is the provider bucket size
// ("1d" or "1h"); ProviderKeyID optionally restricts to a single key.
type UsageQuery struct {
	StartingAt    time.Time
	EndingAt      time.Time
	BucketWidth   string
	ProviderKeyID string
}

// Client is implemented once per provider. Implementations are pure
// fetch-and-normalize: no retries, no persistence, no shared state.
type Client interface {
	Platform() models.Platform
	ListKeys(ctx context.Context, adminKey string, filter KeyFilter) ([]models.ProviderKey, error)
	FetchUsage(ctx context.Context, adminKey string, query UsageQuery) ([]models.UsageBucket, error)
}

// ProviderError is returned for non-2xx responses and for payloads that
// embed an error object despite a 200 status.
type ProviderError struct {
	Platform models.Platform
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (status %d): %s", e.Platform, e.Status, e.Message)
}

// MaskedKeyParts derives the stored prefix/suffix from a partial key hint.
// Hints shorter than the prefix window are used whole; an empty hint falls
// back to the platform's well-known key prefix so an insert never blocks.
func MaskedKeyParts(hint string, platform models.Platform) (prefix, suffix string) {
	if hint == "" {
		return fallbackPrefix(platform), ""
	}
	prefix = hint
	if len(hint) > 15 {
		prefix = hint[:15]
	}
	if len(hint) > 8 {
		suffix = hint[len(hint)-8:]
	}
	return prefix, suffix
}

func fallbackPrefix(platform models.Platform) string {
	switch platform {
	case models.PlatformOpenAI:
		return "sk-"
	case models.PlatformClaude:
		return "sk-ant-"
	case models.PlatformOpenRouter:
		return "sk-or-v1-"
	case models.PlatformVolcengine:
		return "ve-"
	default:
		return ""
	}
}
