// Package registry wires the per-vendor provider clients behind a single
// lookup keyed by platform.
package registry

import (
	"fmt"
	"net/http"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/providers"
	"github.com/haoran127/costix/internal/providers/claude"
	"github.com/haoran127/costix/internal/providers/openai"
	"github.com/haoran127/costix/internal/providers/openrouter"
	"github.com/haoran127/costix/internal/providers/volcengine"
)

// Registry resolves a provider client by platform.
type Registry struct {
	clients map[models.Platform]providers.Client
}

// New builds the default registry from configured endpoint overrides. All
// clients share one HTTP client so the sync timeout applies uniformly.
func New(cfg *config.Config, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Sync.ProviderTimeout}
	}
	return &Registry{clients: map[models.Platform]providers.Client{
		models.PlatformOpenAI:     openai.New(cfg.Providers.OpenAI, httpClient),
		models.PlatformClaude:     claude.New(cfg.Providers.Claude, httpClient),
		models.PlatformOpenRouter: openrouter.New(cfg.Providers.OpenRouter, httpClient),
		models.PlatformVolcengine: volcengine.New(cfg.Providers.Volcengine, httpClient),
	}}
}

// Register overrides a platform's client, mainly for tests.
func (r *Registry) Register(platform models.Platform, client providers.Client) {
	if r.clients == nil {
		r.clients = make(map[models.Platform]providers.Client)
	}
	r.clients[platform] = client
}

// For returns the client for platform or an error for unsupported ones.
func (r *Registry) For(platform models.Platform) (providers.Client, error) {
	client, ok := r.clients[platform]
	if !ok {
		return nil, fmt.Errorf("platform %q unsupported", platform)
	}
	return client, nil
}
