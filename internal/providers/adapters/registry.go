package adapters

import (
	"strings"

	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
)

type Registry struct {
	factories map[string]providerdomain.AdapterFactory
}

func NewRegistry(factories ...providerdomain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]providerdomain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(factory.Kind()))
		if kind == "" {
			continue
		}
		registry.factories[kind] = factory
	}
	return registry
}

func (r *Registry) KindExists(kind string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}

func (r *Registry) NewAdapter(kind string, cfg providerdomain.AdapterConfig) (providerdomain.Adapter, error) {
	if r == nil {
		return nil, providerdomain.ErrKindNotFound
	}
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, providerdomain.ErrKindNotFound
	}
	return factory.NewAdapter(cfg)
}
