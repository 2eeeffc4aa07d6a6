package generator

import (
	"github.com/manyfutures/foresight/internal/config"
	"github.com/manyfutures/foresight/internal/provider"
	"github.com/manyfutures/foresight/internal/provider/openai"
	"go.uber.org/fx"
)

// NewProviderRegistry registers every known provider adapter.
func NewProviderRegistry() *provider.Registry {
	return provider.NewRegistry(
		openai.NewFactory(),
	)
}

// NewActiveProvider builds the provider named by configuration.
func NewActiveProvider(registry *provider.Registry, cfg config.Config) (provider.Provider, error) {
	return registry.NewProvider(cfg.Provider)
}

var Module = fx.Module("generator",
	fx.Provide(
		NewProviderRegistry,
		NewActiveProvider,
		New,
	),
)
