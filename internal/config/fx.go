package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(func(cfg Config) (*ProvidersConfigHolder, error) {
		return NewProvidersConfigHolder(cfg.ProvidersConfigPath)
	}),
)
