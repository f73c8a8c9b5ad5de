package critic

import (
	"sort"
	"strings"
	"sync"

	"codeassess/internal/grading"
	appErr "codeassess/pkg/errors"
)

// Registry maps provider names to critique providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]grading.CritiqueProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]grading.CritiqueProvider)}
}

// NewDefaultRegistry registers the rule provider behind a circuit breaker.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(RuleProviderName, NewBreakerProvider(RuleProviderName, NewRule()))
	return r
}

// Register adds or replaces a provider. Names are case-insensitive.
func (r *Registry) Register(name string, provider grading.CritiqueProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeName(name)] = provider
}

// Resolve returns the named provider; an empty name selects the default provider.
func (r *Registry) Resolve(name string) (grading.CritiqueProvider, error) {
	key := normalizeName(name)
	if key == "" {
		key = grading.DefaultCritiqueProvider
	}
	r.mu.RLock()
	provider, ok := r.providers[key]
	r.mu.RUnlock()
	if !ok || provider == nil {
		return nil, appErr.Newf(appErr.CritiqueProviderUnknown, "critique provider %q is not registered", name).
			WithDetail("provider", name)
	}
	return provider, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
