package domain

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// Provider identifies an upstream LLM vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderMistral   Provider = "mistral"
	ProviderFireworks Provider = "fireworks"
	ProviderGroq      Provider = "groq"
	ProviderXAI       Provider = "xai"
	ProviderAzure     Provider = "azure_openai"
	ProviderBedrock   Provider = "bedrock"
)

// ReasoningEffort is the coarse reasoning control exposed by some vendors.
type ReasoningEffort string

const (
	ReasoningDisabled ReasoningEffort = "disabled"
	ReasoningLow      ReasoningEffort = "low"
	ReasoningMedium   ReasoningEffort = "medium"
	ReasoningHigh     ReasoningEffort = "high"
)

// FallbackPolicy controls model fallback after classified errors.
// Mode is "auto" or "never"; Models is an ordered user-supplied list that,
// when non-empty, takes precedence over the automatic choice.
type FallbackPolicy struct {
	Mode   string   `json:"mode,omitempty"`
	Models []string `json:"models,omitempty"`
}

const (
	FallbackAuto  = "auto"
	FallbackNever = "never"
)

// Disabled reports whether fallback is switched off entirely.
func (f *FallbackPolicy) Disabled() bool { return f != nil && f.Mode == FallbackNever }

// Version is the complete, hashable configuration of an inference call.
// The zero value of every optional field is excluded from the canonical
// form, so adding a default-valued field never changes an existing id.
type Version struct {
	Model                   string          `json:"model"`
	Temperature             *float64        `json:"temperature,omitempty"`
	TopP                    *float64        `json:"top_p,omitempty"`
	MaxOutputTokens         *int            `json:"max_output_tokens,omitempty"`
	Provider                Provider        `json:"provider,omitempty"`
	EnabledTools            []Tool          `json:"enabled_tools,omitempty"`
	ToolChoice              *ToolChoice     `json:"tool_choice,omitempty"`
	Prompt                  []Message       `json:"prompt,omitempty"`
	InputVariablesSchema    map[string]any  `json:"input_variables_schema,omitempty"`
	OutputSchema            map[string]any  `json:"output_schema,omitempty"`
	UseStructuredGeneration *bool           `json:"use_structured_generation,omitempty"`
	ReasoningEffort         ReasoningEffort `json:"reasoning_effort,omitempty"`
	ReasoningBudget         *int            `json:"reasoning_budget,omitempty"`
	ParallelToolCalls       *bool           `json:"parallel_tool_calls,omitempty"`
	PresencePenalty         *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty        *float64        `json:"frequency_penalty,omitempty"`
	UseFallback             *FallbackPolicy `json:"use_fallback,omitempty"`
}

// ID returns the stable 32-character content hash of the canonical form.
func (v *Version) ID() string {
	return contentHash(v)
}

// RequiresStructuredGeneration reports whether the version explicitly
// mandates structured generation (as opposed to leaving the decision to the
// pipeline, which may retry without it).
func (v *Version) RequiresStructuredGeneration() bool {
	return v.UseStructuredGeneration != nil && *v.UseStructuredGeneration
}

// contentHash hashes the canonical JSON form of val. JSON object keys are
// emitted in a stable order (struct declaration order, sorted map keys), so
// semantically equal values share one hash.
func contentHash(val any) string {
	b, err := json.Marshal(val)
	if err != nil {
		return ""
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// AgentInput is the per-call input: template variables and extra messages
// appended after the rendered prompt. Identified by content hash.
type AgentInput struct {
	Messages  []Message      `json:"messages,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ID returns the content hash of the input.
func (in *AgentInput) ID() string {
	return contentHash(in)
}

// IsEmpty reports whether the input carries neither messages nor variables.
func (in *AgentInput) IsEmpty() bool {
	return in == nil || (len(in.Messages) == 0 && len(in.Variables) == 0)
}
