// Package pricing computes the USD cost of a completed LLM call from its
// usage counts and the model's price table.
package pricing

import (
	"fmt"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// UnpriceableError is raised when a required count is missing, e.g. audio
// duration for per-second audio pricing. The runner maps it to null cost.
type UnpriceableError struct {
	Reason string
}

func (e *UnpriceableError) Error() string {
	return fmt.Sprintf("unpriceable run: %s", e.Reason)
}

// Compute fills PromptCostUSD and CompletionCostUSD on the usage record.
// incursCost=false (a failure the provider does not charge for) prices to
// zero on both sides.
func Compute(usage *domain.Usage, pricing *catalog.Pricing, incursCost bool) error {
	if usage == nil || pricing == nil {
		return &UnpriceableError{Reason: "missing usage or price table"}
	}
	if !incursCost {
		zero := 0.0
		usage.PromptCostUSD = &zero
		z2 := 0.0
		usage.CompletionCostUSD = &z2
		return nil
	}

	promptRate, completionRate := ratesFor(usage.PromptTokens, pricing)

	// Cached prompt tokens are discounted; the remainder pays full rate.
	cached := usage.PromptCachedTokens
	if cached > usage.PromptTokens {
		cached = usage.PromptTokens
	}
	textTokens := usage.PromptTokens - usage.PromptAudioTokens
	nonCached := textTokens - cached
	if nonCached < 0 {
		nonCached = 0
	}
	prompt := float64(nonCached)*promptRate +
		float64(cached)*(1-pricing.CachedTokenDiscount)*promptRate

	// Audio input: per token, or per second when the table prices that way.
	if usage.PromptAudioTokens > 0 || usage.PromptAudioDurationSeconds > 0 {
		switch {
		case pricing.AudioPerToken > 0:
			prompt += float64(usage.PromptAudioTokens) * pricing.AudioPerToken
		case pricing.AudioPerSecond > 0:
			if usage.PromptAudioDurationSeconds <= 0 {
				return &UnpriceableError{Reason: "audio priced per second but duration is unknown"}
			}
			prompt += usage.PromptAudioDurationSeconds * pricing.AudioPerSecond
		default:
			// Audio rides the normal token rate.
			prompt += float64(usage.PromptAudioTokens) * promptRate
		}
	}

	if usage.PromptImageCount > 0 {
		if pricing.CostPerImage <= 0 {
			return &UnpriceableError{Reason: "prompt carries images but the model has no image price"}
		}
		prompt += float64(usage.PromptImageCount) * pricing.CostPerImage
	}

	completion := float64(usage.CompletionTokens) * completionRate
	if usage.CompletionImageCount > 0 {
		if pricing.CostPerOutputImage <= 0 {
			return &UnpriceableError{Reason: "completion carries images but the model has no output image price"}
		}
		completion += float64(usage.CompletionImageCount) * pricing.CostPerOutputImage
	}

	usage.PromptCostUSD = &prompt
	usage.CompletionCostUSD = &completion
	return nil
}

// ratesFor picks the token rates for a prompt size: the highest tier whose
// threshold the prompt exceeds, or the base rates.
func ratesFor(promptTokens int64, pricing *catalog.Pricing) (prompt, completion float64) {
	prompt = pricing.PromptPerToken
	completion = pricing.CompletionPerToken
	for _, tier := range pricing.Tiers {
		if promptTokens > tier.ThresholdTokens {
			prompt = tier.PromptRate
			completion = tier.CompletionRate
		}
	}
	return prompt, completion
}
