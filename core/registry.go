package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderRegistry holds mailbox providers keyed by lower-cased id.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]MailboxProvider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]MailboxProvider)}
}

func (r *ProviderRegistry) Register(provider MailboxProvider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	id := providerKey(provider.ID())
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.providers[id] = provider
	return nil
}

func (r *ProviderRegistry) Get(providerID string) (MailboxProvider, bool) {
	id := providerKey(providerID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[id]
	return provider, ok
}

func (r *ProviderRegistry) List() []MailboxProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for id := range r.providers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	providers := make([]MailboxProvider, 0, len(keys))
	for _, id := range keys {
		providers = append(providers, r.providers[id])
	}
	return providers
}

func providerKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
