package outreach

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/webhooks"
)

type ProviderPack struct {
	Name      string
	Providers []core.MailboxProvider
}

type WebhookTemplatePack struct {
	Name      string
	Templates []webhooks.ProviderWebhookTemplate
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	providerPacks map[string]ProviderPack
	webhookPacks  map[string]WebhookTemplatePack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providerPacks: map[string]ProviderPack{},
		webhookPacks:  map[string]WebhookTemplatePack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("outreach: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("outreach: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("outreach: provider pack %q has no providers", name)
	}

	normalized := ProviderPack{
		Name:      name,
		Providers: append([]core.MailboxProvider(nil), pack.Providers...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[name]; exists {
		return fmt.Errorf("outreach: provider pack %q already registered", name)
	}
	h.providerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterWebhookPack(pack WebhookTemplatePack) error {
	if h == nil {
		return fmt.Errorf("outreach: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("outreach: webhook pack name is required")
	}
	if len(pack.Templates) == 0 {
		return fmt.Errorf("outreach: webhook pack %q has no templates", name)
	}
	for _, template := range pack.Templates {
		if strings.TrimSpace(template.Provider) == "" {
			return fmt.Errorf("outreach: webhook pack %q has a template without provider", name)
		}
		if template.Normalizer == nil {
			return fmt.Errorf("outreach: webhook pack %q template %q has no normalizer", name, template.Provider)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.webhookPacks[name]; exists {
		return fmt.Errorf("outreach: webhook pack %q already registered", name)
	}
	h.webhookPacks[name] = WebhookTemplatePack{
		Name:      name,
		Templates: append([]webhooks.ProviderWebhookTemplate(nil), pack.Templates...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("outreach: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("outreach: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("outreach: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("outreach: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

func (h *ExtensionHooks) ApplyProviderPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("outreach: registry is required")
	}

	for _, pack := range h.ProviderPacks() {
		for _, provider := range pack.Providers {
			if provider == nil {
				return fmt.Errorf("outreach: provider pack %q contains nil provider", pack.Name)
			}
			if err := registry.Register(provider); err != nil {
				return err
			}
		}
	}
	return nil
}

// MountWebhooks registers a processor for every template, feeding inbound.
func (h *ExtensionHooks) MountWebhooks(handler *webhooks.Handler, inbound webhooks.InboundProcessor) error {
	if h == nil {
		return nil
	}
	if handler == nil {
		return fmt.Errorf("outreach: webhook handler is required")
	}
	if inbound == nil {
		return fmt.Errorf("outreach: inbound processor is required")
	}
	for _, pack := range h.WebhookPacks() {
		for _, template := range pack.Templates {
			if err := handler.Register(template.Provider, template.Processor(inbound)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("outreach: command/query service is required")
	}

	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range sortedKeys(factories) {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ProviderPack, 0, len(h.providerPacks))
	for _, name := range sortedKeys(h.providerPacks) {
		pack := h.providerPacks[name]
		out = append(out, ProviderPack{
			Name:      pack.Name,
			Providers: append([]core.MailboxProvider(nil), pack.Providers...),
		})
	}
	return out
}

func (h *ExtensionHooks) WebhookPacks() []WebhookTemplatePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]WebhookTemplatePack, 0, len(h.webhookPacks))
	for _, name := range sortedKeys(h.webhookPacks) {
		pack := h.webhookPacks[name]
		out = append(out, WebhookTemplatePack{
			Name:      pack.Name,
			Templates: append([]webhooks.ProviderWebhookTemplate(nil), pack.Templates...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
