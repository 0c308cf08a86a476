package payment

import (
	"strings"

	"github.com/smallbiznis/gigledger/internal/payment/domain"
)

// Registry resolves the configured processor by name.
type Registry struct {
	factories map[string]domain.ProcessorFactory
}

func NewRegistry(factories ...domain.ProcessorFactory) *Registry {
	registry := &Registry{factories: map[string]domain.ProcessorFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(factory.Name()))
		if name == "" {
			continue
		}
		registry.factories[name] = factory
	}
	return registry
}

func (r *Registry) Exists(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (r *Registry) New(name string) (domain.Processor, error) {
	if r == nil {
		return nil, domain.ErrProcessorNotFound
	}
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrProcessorNotFound
	}
	return factory.New()
}
