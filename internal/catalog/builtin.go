package catalog

import "github.com/anotherai-dev/anotherai-sub001/internal/domain"

// Rates are USD per token (per-million price / 1e6).
const perMillion = 1e-6

func textSupports() Supports {
	return Supports{
		SystemMessages:    true,
		JSONMode:          true,
		StructuredOutput:  true,
		ToolCalling:       true,
		ParallelToolCalls: true,
		Temperature:       true,
		TopP:              true,
		Penalties:         true,
		InputImage:        true,
		OutputText:        true,
	}
}

// builtinModels is the built-in catalog. Context limits and prices follow
// the vendors' published tables; fallback targets pair each model with a
// cheaper cross-vendor alternative.
func builtinModels() []*ModelData {
	gptFallback := &Fallbacks{
		ContentModeration: "claude-sonnet-4",
		StructuredOutput:  "gpt-4o",
		ContextExceeded:   "gemini-2.5-pro",
		RateLimit:         "claude-sonnet-4",
		UnknownError:      "claude-sonnet-4",
	}
	claudeFallback := &Fallbacks{
		ContentModeration: "gpt-4.1",
		StructuredOutput:  "gpt-4.1",
		ContextExceeded:   "gemini-2.5-pro",
		RateLimit:         "gpt-4.1",
		UnknownError:      "gpt-4.1",
	}
	geminiFallback := &Fallbacks{
		ContentModeration: "gpt-4.1",
		StructuredOutput:  "gpt-4.1",
		RateLimit:         "gpt-4.1",
		UnknownError:      "gpt-4.1",
	}

	gpt41 := &ModelData{
		ID:          "gpt-4.1",
		DisplayName: "GPT-4.1",
		MaxTokens:   MaxTokensData{ContextWindow: 1047576, MaxOutputTokens: 32768},
		Supports:    withPDF(textSupports()),
		Pricing: Pricing{
			PromptPerToken:      2.0 * perMillion,
			CompletionPerToken:  8.0 * perMillion,
			CachedTokenDiscount: 0.75,
			CostPerImage:        0.002,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderOpenAI},
			{Provider: domain.ProviderAzure},
		},
		Fallback: gptFallback,
	}

	gpt4o := &ModelData{
		ID:          "gpt-4o",
		DisplayName: "GPT-4o",
		MaxTokens:   MaxTokensData{ContextWindow: 128000, MaxOutputTokens: 16384},
		Supports: func() Supports {
			s := textSupports()
			s.InputAudio = true
			return s
		}(),
		Pricing: Pricing{
			PromptPerToken:      2.5 * perMillion,
			CompletionPerToken:  10.0 * perMillion,
			CachedTokenDiscount: 0.5,
			CostPerImage:        0.0025,
			AudioPerToken:       100.0 * perMillion,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderOpenAI},
			{Provider: domain.ProviderAzure},
		},
		Fallback: gptFallback,
	}

	gpt4oMini := &ModelData{
		ID:          "gpt-4o-mini",
		DisplayName: "GPT-4o mini",
		MaxTokens:   MaxTokensData{ContextWindow: 128000, MaxOutputTokens: 16384},
		Supports:    textSupports(),
		Pricing: Pricing{
			PromptPerToken:      0.15 * perMillion,
			CompletionPerToken:  0.6 * perMillion,
			CachedTokenDiscount: 0.5,
			CostPerImage:        0.001,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderOpenAI},
			{Provider: domain.ProviderAzure},
		},
		Fallback: gptFallback,
	}

	o4Mini := &ModelData{
		ID:          "o4-mini",
		DisplayName: "o4-mini",
		MaxTokens:   MaxTokensData{ContextWindow: 200000, MaxOutputTokens: 100000},
		Supports: func() Supports {
			s := textSupports()
			s.Temperature = false
			s.TopP = false
			s.Penalties = false
			return s
		}(),
		ReasoningBudget: map[domain.ReasoningEffort]int{
			domain.ReasoningLow:    1024,
			domain.ReasoningMedium: 8192,
			domain.ReasoningHigh:   24576,
		},
		Pricing: Pricing{
			PromptPerToken:      1.1 * perMillion,
			CompletionPerToken:  4.4 * perMillion,
			CachedTokenDiscount: 0.75,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderOpenAI},
			{Provider: domain.ProviderAzure},
		},
		Fallback: gptFallback,
	}

	claudeSonnet := &ModelData{
		ID:          "claude-sonnet-4",
		DisplayName: "Claude Sonnet 4",
		MaxTokens:   MaxTokensData{ContextWindow: 200000, MaxOutputTokens: 64000},
		Supports:    withPDF(textSupports()),
		ReasoningBudget: map[domain.ReasoningEffort]int{
			domain.ReasoningLow:    1024,
			domain.ReasoningMedium: 8192,
			domain.ReasoningHigh:   32000,
		},
		Pricing: Pricing{
			PromptPerToken:      3.0 * perMillion,
			CompletionPerToken:  15.0 * perMillion,
			CachedTokenDiscount: 0.9,
			CostPerImage:        0.0048,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderAnthropic, ModelID: "claude-sonnet-4-20250514"},
			{Provider: domain.ProviderBedrock, ModelID: "anthropic.claude-sonnet-4-20250514-v1:0"},
		},
		Fallback: claudeFallback,
		Aliases:  []string{"claude-sonnet-4-20250514"},
	}

	claudeHaiku := &ModelData{
		ID:          "claude-haiku-3.5",
		DisplayName: "Claude Haiku 3.5",
		MaxTokens:   MaxTokensData{ContextWindow: 200000, MaxOutputTokens: 8192},
		Supports:    textSupports(),
		Pricing: Pricing{
			PromptPerToken:      0.8 * perMillion,
			CompletionPerToken:  4.0 * perMillion,
			CachedTokenDiscount: 0.9,
			CostPerImage:        0.0013,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderAnthropic, ModelID: "claude-3-5-haiku-20241022"},
			{Provider: domain.ProviderBedrock, ModelID: "anthropic.claude-3-5-haiku-20241022-v1:0"},
		},
		Fallback: claudeFallback,
		Aliases:  []string{"claude-3-5-haiku-20241022"},
	}

	geminiPro := &ModelData{
		ID:          "gemini-2.5-pro",
		DisplayName: "Gemini 2.5 Pro",
		MaxTokens:   MaxTokensData{ContextWindow: 1048576, MaxOutputTokens: 65536},
		Supports: func() Supports {
			s := withPDF(textSupports())
			s.InputAudio = true
			return s
		}(),
		ReasoningBudget: map[domain.ReasoningEffort]int{
			domain.ReasoningLow:    512,
			domain.ReasoningMedium: 8192,
			domain.ReasoningHigh:   32768,
		},
		Pricing: Pricing{
			PromptPerToken:     1.25 * perMillion,
			CompletionPerToken: 10.0 * perMillion,
			Tiers: []PriceTier{{
				ThresholdTokens: 200000,
				PromptRate:      2.5 * perMillion,
				CompletionRate:  15.0 * perMillion,
			}},
			CachedTokenDiscount: 0.75,
			AudioPerSecond:      0.00003125,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderGoogle},
		},
		Fallback: geminiFallback,
	}

	geminiFlash := &ModelData{
		ID:          "gemini-2.5-flash",
		DisplayName: "Gemini 2.5 Flash",
		MaxTokens:   MaxTokensData{ContextWindow: 1048576, MaxOutputTokens: 65536},
		Supports: func() Supports {
			s := withPDF(textSupports())
			s.InputAudio = true
			return s
		}(),
		Pricing: Pricing{
			PromptPerToken:      0.3 * perMillion,
			CompletionPerToken:  2.5 * perMillion,
			CachedTokenDiscount: 0.75,
			AudioPerToken:       1.0 * perMillion,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderGoogle},
		},
		Fallback: geminiFallback,
	}

	mistralLarge := &ModelData{
		ID:          "mistral-large",
		DisplayName: "Mistral Large",
		MaxTokens:   MaxTokensData{ContextWindow: 128000, MaxOutputTokens: 8192},
		Supports: func() Supports {
			s := textSupports()
			s.InputImage = false
			return s
		}(),
		Pricing: Pricing{
			PromptPerToken:     2.0 * perMillion,
			CompletionPerToken: 6.0 * perMillion,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderMistral, ModelID: "mistral-large-latest"},
		},
		Fallback: gptFallback,
	}

	llama70b := &ModelData{
		ID:          "llama-3.3-70b",
		DisplayName: "Llama 3.3 70B",
		MaxTokens:   MaxTokensData{ContextWindow: 131072, MaxOutputTokens: 16384},
		Supports: func() Supports {
			s := textSupports()
			s.InputImage = false
			s.StructuredOutput = false
			return s
		}(),
		Pricing: Pricing{
			PromptPerToken:     0.9 * perMillion,
			CompletionPerToken: 0.9 * perMillion,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderFireworks, ModelID: "accounts/fireworks/models/llama-v3p3-70b-instruct"},
			{Provider: domain.ProviderGroq, ModelID: "llama-3.3-70b-versatile"},
		},
		Fallback: gptFallback,
	}

	grok := &ModelData{
		ID:          "grok-3",
		DisplayName: "Grok 3",
		MaxTokens:   MaxTokensData{ContextWindow: 131072, MaxOutputTokens: 16384},
		Supports:    textSupports(),
		Pricing: Pricing{
			PromptPerToken:     3.0 * perMillion,
			CompletionPerToken: 15.0 * perMillion,
		},
		Providers: []ProviderEntry{
			{Provider: domain.ProviderXAI},
		},
		Fallback: gptFallback,
	}

	return []*ModelData{
		gpt41, gpt4o, gpt4oMini, o4Mini,
		claudeSonnet, claudeHaiku,
		geminiPro, geminiFlash,
		mistralLarge, llama70b, grok,
	}
}

func withPDF(s Supports) Supports {
	s.InputPDF = true
	return s
}
