package provider

import (
	"strings"

	"github.com/manyfutures/foresight/internal/config"
)

// Factory builds a Provider from configuration.
type Factory interface {
	Provider() string
	NewProvider(cfg config.ProviderConfig) (Provider, error)
}

type Registry struct {
	factories map[string]Factory
}

func NewRegistry(factories ...Factory) *Registry {
	registry := &Registry{factories: map[string]Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if name == "" {
			continue
		}
		registry.factories[name] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(name string) bool {
	if r == nil {
		return false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	_, ok := r.factories[name]
	return ok
}

func (r *Registry) NewProvider(cfg config.ProviderConfig) (Provider, error) {
	if r == nil {
		return nil, ErrProviderNotFound
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	factory, ok := r.factories[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return factory.NewProvider(cfg)
}
