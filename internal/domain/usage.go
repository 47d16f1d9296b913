package domain

// Usage captures token and media counts reported by a provider for one LLM
// call, plus the USD costs derived from them by the pricing engine.
type Usage struct {
	PromptTokens       int64 `json:"prompt_tokens,omitempty"`
	PromptTextTokens   int64 `json:"prompt_text_tokens,omitempty"`
	PromptAudioTokens  int64 `json:"prompt_audio_tokens,omitempty"`
	PromptCachedTokens int64 `json:"prompt_cached_tokens,omitempty"`

	CompletionTokens          int64 `json:"completion_tokens,omitempty"`
	CompletionReasoningTokens int64 `json:"completion_reasoning_tokens,omitempty"`

	PromptImageCount     int64 `json:"prompt_image_count,omitempty"`
	CompletionImageCount int64 `json:"completion_image_count,omitempty"`

	PromptAudioDurationSeconds float64 `json:"prompt_audio_duration_seconds,omitempty"`

	// Derived USD costs, filled by the pricing engine. Nil when the run
	// could not be priced.
	PromptCostUSD     *float64 `json:"prompt_cost_usd,omitempty"`
	CompletionCostUSD *float64 `json:"completion_cost_usd,omitempty"`
}

// TotalCostUSD sums the derived costs; nil when neither side was priced.
func (u *Usage) TotalCostUSD() *float64 {
	if u.PromptCostUSD == nil && u.CompletionCostUSD == nil {
		return nil
	}
	var total float64
	if u.PromptCostUSD != nil {
		total += *u.PromptCostUSD
	}
	if u.CompletionCostUSD != nil {
		total += *u.CompletionCostUSD
	}
	return &total
}

// Add merges counts from another usage record. Derived costs are not merged.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.PromptTextTokens += other.PromptTextTokens
	u.PromptAudioTokens += other.PromptAudioTokens
	u.PromptCachedTokens += other.PromptCachedTokens
	u.CompletionTokens += other.CompletionTokens
	u.CompletionReasoningTokens += other.CompletionReasoningTokens
	u.PromptImageCount += other.PromptImageCount
	u.CompletionImageCount += other.CompletionImageCount
	u.PromptAudioDurationSeconds += other.PromptAudioDurationSeconds
}
