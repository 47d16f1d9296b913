// Package catalog holds the model catalog: per-model capability flags,
// context limits, pricing tables, and the ordered provider list the
// fallback pipeline walks.
package catalog

import (
	"strings"
	"sync"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// MaxTokensData bounds a model's context.
type MaxTokensData struct {
	ContextWindow   int `json:"context_window"`
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
}

// Supports enumerates model capability flags.
type Supports struct {
	SystemMessages    bool `json:"system_messages"`
	JSONMode          bool `json:"json_mode"`
	StructuredOutput  bool `json:"structured_output"`
	ToolCalling       bool `json:"tool_calling"`
	ParallelToolCalls bool `json:"parallel_tool_calls"`
	Temperature       bool `json:"temperature"`
	TopP              bool `json:"top_p"`
	Penalties         bool `json:"penalties"`
	InputImage        bool `json:"input_image"`
	InputAudio        bool `json:"input_audio"`
	InputPDF          bool `json:"input_pdf"`
	OutputImage       bool `json:"output_image"`
	OutputText        bool `json:"output_text"`
}

// PriceTier is a threshold-dependent token rate: Rate applies once the
// prompt exceeds ThresholdTokens.
type PriceTier struct {
	ThresholdTokens int64   `json:"threshold_tokens"`
	PromptRate      float64 `json:"prompt_rate"`
	CompletionRate  float64 `json:"completion_rate"`
}

// Pricing is the per-model price table. Token rates are USD per token.
type Pricing struct {
	PromptPerToken     float64     `json:"prompt_per_token"`
	CompletionPerToken float64     `json:"completion_per_token"`
	Tiers              []PriceTier `json:"tiers,omitempty"`

	// CachedTokenDiscount is the fraction discounted from the prompt rate
	// for cached tokens (0.5 means half price).
	CachedTokenDiscount float64 `json:"cached_token_discount,omitempty"`

	CostPerImage       float64 `json:"cost_per_image,omitempty"`
	CostPerOutputImage float64 `json:"cost_per_output_image,omitempty"`

	// Audio input is priced either per token or per second.
	AudioPerToken  float64 `json:"audio_per_token,omitempty"`
	AudioPerSecond float64 `json:"audio_per_second,omitempty"`
}

// ProviderEntry is one hop of a model's ordered provider list. Overrides
// are applied on top of the model's base data for that provider.
type ProviderEntry struct {
	Provider  domain.Provider `json:"provider"`
	ModelID   string          `json:"model_id,omitempty"` // provider-specific id when it differs
	Overrides *Overrides      `json:"overrides,omitempty"`
}

// Overrides tweak model data per provider.
type Overrides struct {
	MaxOutputTokens  int   `json:"max_output_tokens,omitempty"`
	StructuredOutput *bool `json:"structured_output,omitempty"`
}

// Fallbacks maps error classes to the model tried after the original is
// exhausted.
type Fallbacks struct {
	ContentModeration string `json:"content_moderation,omitempty"`
	StructuredOutput  string `json:"structured_output,omitempty"`
	ContextExceeded   string `json:"context_exceeded,omitempty"`
	RateLimit         string `json:"rate_limit,omitempty"`
	UnknownError      string `json:"unknown_error,omitempty"`
}

// ModelData is one catalog entry.
type ModelData struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"display_name,omitempty"`
	MaxTokens       MaxTokensData   `json:"max_tokens"`
	Supports        Supports        `json:"supports"`
	ReasoningBudget map[domain.ReasoningEffort]int `json:"reasoning_budget,omitempty"`
	Pricing         Pricing         `json:"pricing"`
	Providers       []ProviderEntry `json:"providers"`
	Fallback        *Fallbacks      `json:"fallback,omitempty"`
	Aliases         []string        `json:"aliases,omitempty"`
}

// Clone returns a deep-enough copy safe for per-request sanitization.
// Adapters mutate Supports and MaxTokens in SanitizeModelData; the shared
// catalog entry must stay untouched.
func (m *ModelData) Clone() *ModelData {
	out := *m
	out.Providers = append([]ProviderEntry(nil), m.Providers...)
	return &out
}

// ProviderModelID resolves the vendor-specific model id for a provider,
// defaulting to the catalog id.
func (m *ModelData) ProviderModelID(p domain.Provider) string {
	for _, e := range m.Providers {
		if e.Provider == p && e.ModelID != "" {
			return e.ModelID
		}
	}
	return m.ID
}

// Catalog is a read-only model lookup table. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	models  map[string]*ModelData
	aliases map[string]string
	order   []string
}

// New builds a catalog from entries; later entries with duplicate ids
// replace earlier ones.
func New(entries []*ModelData) *Catalog {
	c := &Catalog{
		models:  make(map[string]*ModelData, len(entries)),
		aliases: make(map[string]string),
	}
	for _, e := range entries {
		if _, dup := c.models[e.ID]; !dup {
			c.order = append(c.order, e.ID)
		}
		c.models[e.ID] = e
		for _, a := range e.Aliases {
			c.aliases[a] = e.ID
		}
	}
	return c
}

// Default returns the built-in catalog.
func Default() *Catalog { return New(builtinModels()) }

// Get resolves a model id or alias. The "-latest" suffix resolves to the
// bare id when no exact entry exists.
func (c *Catalog) Get(id string) (*ModelData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.models[id]; ok {
		return m, true
	}
	if target, ok := c.aliases[id]; ok {
		return c.models[target], true
	}
	if trimmed, ok := strings.CutSuffix(id, "-latest"); ok {
		if m, ok := c.models[trimmed]; ok {
			return m, true
		}
		if target, ok := c.aliases[trimmed]; ok {
			return c.models[target], true
		}
	}
	return nil, false
}

// List returns all entries in registration order.
func (c *Catalog) List() []*ModelData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ModelData, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}
