package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
)

const (
	DispatchModeQueued = "queued"
	DispatchModeDirect = "direct"
)

// ProvidersConfig is the content of providers.yml.
type ProvidersConfig struct {
	Providers map[string]ProviderSettings `mapstructure:"providers"`
	// Products maps a billing product id to a tier name.
	Products map[string]string `mapstructure:"products"`
}

type ProviderSettings struct {
	Kind             string          `mapstructure:"kind"`
	Endpoint         string          `mapstructure:"endpoint"`
	APIKey           string          `mapstructure:"apiKey"`
	APIKeyEnv        string          `mapstructure:"apiKeyEnv"`
	Model            string          `mapstructure:"model"`
	OutputCount      int             `mapstructure:"outputCount"`
	CreditCost       int             `mapstructure:"creditCost"`
	Mode             string          `mapstructure:"mode"`
	ConcurrencyLimit int             `mapstructure:"concurrencyLimit"`
	RateLimit        RateLimitWindow `mapstructure:"rateLimit"`
	Timeout          time.Duration   `mapstructure:"timeout"`
}

// RateLimitWindow is a sliding-window submission cap. Max<=0 disables it.
type RateLimitWindow struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

func (r RateLimitWindow) Enabled() bool {
	return r.Max > 0 && r.Window > 0
}

// ResolvedAPIKey prefers the env indirection over an inline key.
func (p ProviderSettings) ResolvedAPIKey() string {
	if name := strings.TrimSpace(p.APIKeyEnv); name != "" {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(p.APIKey)
}

func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Providers: map[string]ProviderSettings{
			"song": {
				Kind:             "audio",
				Endpoint:         "http://localhost:9100/api/v1/generate",
				APIKeyEnv:        "SONG_PROVIDER_API_KEY",
				OutputCount:      2,
				CreditCost:       1,
				Mode:             DispatchModeQueued,
				ConcurrencyLimit: 5,
				RateLimit:        RateLimitWindow{Max: 20, Window: 10 * time.Second},
				Timeout:          30 * time.Second,
			},
			"clip": {
				Kind:             "video",
				Endpoint:         "http://localhost:9200/v1/videos",
				APIKeyEnv:        "CLIP_PROVIDER_API_KEY",
				OutputCount:      1,
				CreditCost:       1,
				Mode:             DispatchModeDirect,
				ConcurrencyLimit: 2,
				Timeout:          60 * time.Second,
			},
		},
		Products: map[string]string{},
	}
}

type ProvidersConfigHolder struct {
	current atomic.Value // holds ProvidersConfig
}

// NewStaticProvidersConfig wraps an already built configuration without file watching.
func NewStaticProvidersConfig(cfg ProvidersConfig) (*ProvidersConfigHolder, error) {
	normalized, err := normalizeProvidersConfig(cfg)
	if err != nil {
		return nil, err
	}
	holder := &ProvidersConfigHolder{}
	holder.current.Store(normalized)
	return holder, nil
}

func NewProvidersConfigHolder(path string) (*ProvidersConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("providers")
	v.SetConfigType("yml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/mediaforge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEDIAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultProvidersConfig()
	if fileFound {
		cfg = ProvidersConfig{}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, err
		}
	}

	normalized, err := normalizeProvidersConfig(cfg)
	if err != nil {
		return nil, err
	}

	holder := &ProvidersConfigHolder{}
	holder.current.Store(normalized)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated ProvidersConfig
			if err := v.Unmarshal(&updated); err != nil {
				log.Printf("[providers-config] reload failed: %v", err)
				return
			}
			normalized, err := normalizeProvidersConfig(updated)
			if err != nil {
				log.Printf("[providers-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(normalized)
			log.Printf("[providers-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *ProvidersConfigHolder) Get() ProvidersConfig {
	return h.current.Load().(ProvidersConfig)
}

// Provider looks up settings by normalized provider type.
func (h *ProvidersConfigHolder) Provider(providerType string) (ProviderSettings, bool) {
	settings, ok := h.Get().Providers[NormalizeProviderType(providerType)]
	return settings, ok
}

func (h *ProvidersConfigHolder) ProviderTypes() []string {
	cfg := h.Get()
	out := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func NormalizeProviderType(raw string) string {
	return slug.Make(strings.TrimSpace(raw))
}

func normalizeProvidersConfig(cfg ProvidersConfig) (ProvidersConfig, error) {
	if len(cfg.Providers) == 0 {
		return ProvidersConfig{}, errors.New("providers cannot be empty")
	}

	out := ProvidersConfig{
		Providers: make(map[string]ProviderSettings, len(cfg.Providers)),
		Products:  make(map[string]string, len(cfg.Products)),
	}
	for name, settings := range cfg.Providers {
		key := NormalizeProviderType(name)
		if key == "" {
			return ProvidersConfig{}, fmt.Errorf("provider name %q is invalid", name)
		}
		settings.Kind = strings.ToLower(strings.TrimSpace(settings.Kind))
		if settings.Kind == "" {
			return ProvidersConfig{}, fmt.Errorf("providers.%s.kind is required", key)
		}
		if settings.OutputCount <= 0 {
			settings.OutputCount = 1
		}
		if settings.CreditCost <= 0 {
			settings.CreditCost = 1
		}
		if settings.ConcurrencyLimit <= 0 {
			return ProvidersConfig{}, fmt.Errorf("providers.%s.concurrencyLimit must be positive", key)
		}
		switch strings.ToLower(strings.TrimSpace(settings.Mode)) {
		case "", DispatchModeQueued:
			settings.Mode = DispatchModeQueued
		case DispatchModeDirect:
			settings.Mode = DispatchModeDirect
		default:
			return ProvidersConfig{}, fmt.Errorf("providers.%s.mode %q is not supported", key, settings.Mode)
		}
		if settings.RateLimit.Max < 0 || settings.RateLimit.Window < 0 {
			return ProvidersConfig{}, fmt.Errorf("providers.%s.rateLimit cannot be negative", key)
		}
		if settings.Timeout <= 0 {
			settings.Timeout = 30 * time.Second
		}
		out.Providers[key] = settings
	}
	for product, tier := range cfg.Products {
		product = strings.TrimSpace(product)
		if product == "" {
			continue
		}
		out.Products[strings.ToLower(product)] = strings.ToLower(strings.TrimSpace(tier))
	}
	return out, nil
}
