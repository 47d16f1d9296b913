package providers

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// Registry holds the adapter instances built from credential configs. A
// vendor may carry several configs (indexed env keys); each becomes its own
// adapter and the routing layer walks them in order.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Provider][]Adapter
}

// NewRegistry builds adapters for every config. Configs that fail to build
// (bad AWS config, client init failures) are logged and skipped so one broken
// credential set does not take down the rest.
func NewRegistry(ctx context.Context, configs []Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{adapters: make(map[domain.Provider][]Adapter)}
	for _, cfg := range configs {
		adapter, err := buildAdapter(ctx, cfg)
		if err != nil {
			logger.Warn("skipping provider config",
				"provider", cfg.Provider, "config_id", cfg.ID, "error", err)
			continue
		}
		r.adapters[cfg.Provider] = append(r.adapters[cfg.Provider], adapter)
	}
	return r
}

func buildAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	switch cfg.Provider {
	case domain.ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case domain.ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case domain.ProviderGoogle:
		return NewGoogle(ctx, cfg)
	case domain.ProviderMistral:
		return NewMistral(cfg), nil
	case domain.ProviderFireworks:
		return NewFireworks(cfg), nil
	case domain.ProviderGroq:
		return NewGroq(cfg), nil
	case domain.ProviderXAI:
		return NewXAI(cfg), nil
	case domain.ProviderAzure:
		return NewAzure(cfg), nil
	case domain.ProviderBedrock:
		return NewBedrock(ctx, cfg)
	default:
		return nil, &Error{Kind: KindInvalidProviderConfig, Provider: cfg.Provider,
			Message: "unknown provider"}
	}
}

// Register adds a prebuilt adapter, used by tests and tenant-supplied configs.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := adapter.Name()
	r.adapters[p] = append(r.adapters[p], adapter)
}

// Adapters returns the adapter list for a vendor. Vendors marked for round
// robin get a shuffled copy so concurrent requests spread across credentials.
func (r *Registry) Adapters(p domain.Provider) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.adapters[p]
	if len(list) == 0 {
		return nil
	}
	out := make([]Adapter, len(list))
	copy(out, list)
	if RoundRobin(p) && len(out) > 1 {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// Has reports whether at least one adapter exists for the vendor.
func (r *Registry) Has(p domain.Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters[p]) > 0
}

// Providers lists the vendors with at least one adapter.
func (r *Registry) Providers() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
