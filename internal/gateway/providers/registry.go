package providers

import (
	"fmt"
	"time"
)

// Registry maps provider identifiers to adapter implementations. Adding a
// provider means registering it here, not editing dispatch sites.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry with all built-in adapters sharing one
// upstream timeout.
func NewRegistry(timeout time.Duration) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(NewOpenAIProvider())
	r.Register(NewAnthropicProvider(timeout))
	r.Register(NewGoogleProvider(timeout))
	r.Register(NewMistralProvider(timeout))
	r.Register(NewXAIProvider(timeout))
	return r
}

// NewEmptyRegistry builds a registry with no adapters, for tests.
func NewEmptyRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the adapter for a provider identifier.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}
