package providers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/smallbiznis/mediaforge/internal/config"
	"github.com/smallbiznis/mediaforge/internal/providers/adapters"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"go.uber.org/zap"
)

// WebhookPath is the inbound callback route prefix registered by the HTTP server.
const WebhookPath = "/webhooks/generation/"

type cachedAdapter struct {
	settings config.ProviderSettings
	adapter  providerdomain.Adapter
}

// Catalog builds adapters from providers.yml and rebuilds them when a reload changes the settings.
type Catalog struct {
	holder   *config.ProvidersConfigHolder
	registry *adapters.Registry
	baseURL  string
	log      *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedAdapter
}

func NewCatalog(cfg config.Config, holder *config.ProvidersConfigHolder, registry *adapters.Registry, log *zap.Logger) *Catalog {
	return &Catalog{
		holder:   holder,
		registry: registry,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:      log.Named("providers.catalog"),
		cache:    map[string]cachedAdapter{},
	}
}

func (c *Catalog) Resolve(providerType string) (providerdomain.Adapter, config.ProviderSettings, error) {
	key := config.NormalizeProviderType(providerType)
	settings, ok := c.holder.Provider(key)
	if !ok {
		return nil, config.ProviderSettings{}, providerdomain.ErrUnknownProvider
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[key]; ok && cached.settings == settings {
		return cached.adapter, settings, nil
	}

	adapter, err := c.registry.NewAdapter(settings.Kind, providerdomain.AdapterConfig{
		ProviderType: key,
		Settings:     settings,
		CallbackURL:  c.CallbackURL(key),
		Timeout:      settings.Timeout,
	})
	if err != nil {
		return nil, config.ProviderSettings{}, fmt.Errorf("build %s adapter: %w", key, err)
	}
	c.cache[key] = cachedAdapter{settings: settings, adapter: adapter}
	c.log.Info("provider adapter ready",
		zap.String("provider_type", key),
		zap.String("kind", settings.Kind),
		zap.String("mode", settings.Mode),
	)
	return adapter, settings, nil
}

func (c *Catalog) ProviderTypes() []string {
	return c.holder.ProviderTypes()
}

func (c *Catalog) CallbackURL(providerType string) string {
	return c.baseURL + WebhookPath + providerType
}
