package providers

import (
	"context"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// Config is one credential set for a vendor. A vendor may have several
// (indexed env keys, tenant-supplied configs); each becomes its own adapter
// instance.
type Config struct {
	// ID identifies the config in traces ("openai#1").
	ID string

	Provider domain.Provider
	APIKey   string

	// BaseURL overrides the vendor default endpoint.
	BaseURL string

	// Azure-specific: resource endpoint and API version.
	AzureEndpoint   string
	AzureAPIVersion string

	// Bedrock-specific.
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
}

// Options carries the per-call inference parameters, already resolved
// against the model catalog.
type Options struct {
	// Model is the catalog model id; ProviderModel the vendor-specific id.
	Model         string
	ProviderModel string

	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int

	Tools      []domain.Tool
	ToolChoice *domain.ToolChoice

	// OutputSchema, when set with StructuredGeneration, constrains output
	// at inference time; without StructuredGeneration the runner instructs
	// the model textually instead.
	OutputSchema         map[string]any
	StructuredGeneration bool

	ReasoningEffort domain.ReasoningEffort
	ReasoningBudget *int

	ParallelToolCalls *bool
	PresencePenalty   *float64
	FrequencyPenalty  *float64
}

// Output is the normalized result of one upstream call.
type Output struct {
	Text         string
	Reasoning    string
	ToolCalls    []domain.ToolCallRequest
	Files        []domain.File
	Usage        domain.Usage
	FinishReason string
}

// Chunk is one element of a streamed response. Both the delta and the
// updated aggregate are populated so consumers can pick either.
type Chunk struct {
	// Delta is the text added by this chunk.
	Delta string

	// ReasoningDelta is the reasoning text added by this chunk.
	ReasoningDelta string

	// Updates are the structured-output leaves completed by this chunk,
	// present when the call has an output schema.
	Updates []StreamUpdate

	// Partial is the aggregate output so far: a string, or a partially
	// parsed object when an output schema is set.
	Partial any

	// Final carries the complete output; set only on the last chunk.
	Final *Output

	// Err terminates the stream.
	Err error
}

// StreamUpdate mirrors jsonstream.Update without importing it everywhere.
type StreamUpdate struct {
	Keypath string
	Value   any
}

// Adapter is the per-vendor translation layer. Instances are cheap and
// short-lived; one is built per credential config per request.
type Adapter interface {
	// Name returns the vendor id.
	Name() domain.Provider

	// Config returns the credential config backing this adapter.
	Config() Config

	// SupportsModel reports whether this vendor serves the model.
	SupportsModel(model *catalog.ModelData) bool

	// DefaultModel is the vendor's default catalog model id.
	DefaultModel() string

	// RequiresDownloadingFile reports whether the runner must inline the
	// file before the call (vendor cannot fetch URLs, audio formats, or
	// missing content types that need sniffing).
	RequiresDownloadingFile(f *domain.File, model string) bool

	// IsStreamable reports whether the model/tool combination can stream.
	IsStreamable(model string, tools []domain.Tool) bool

	// SanitizeModelData applies vendor-specific tweaks to a per-request
	// clone of the catalog entry.
	SanitizeModelData(md *catalog.ModelData)

	// Complete performs a unary call.
	Complete(ctx context.Context, messages []domain.Message, opts *Options) (*Output, error)

	// Stream performs a streaming call. The returned channel is closed
	// after the final chunk (or an error chunk).
	Stream(ctx context.Context, messages []domain.Message, opts *Options) (<-chan *Chunk, error)

	// CheckValid pings the vendor with the configured credentials.
	CheckValid(ctx context.Context) bool
}

// EnvVarNames lists the environment variables a provider needs, used in
// no_provider_supporting_model payloads.
func EnvVarNames(p domain.Provider) []string {
	switch p {
	case domain.ProviderOpenAI:
		return []string{"OPENAI_API_KEY"}
	case domain.ProviderAnthropic:
		return []string{"ANTHROPIC_API_KEY"}
	case domain.ProviderGoogle:
		return []string{"GEMINI_API_KEY"}
	case domain.ProviderMistral:
		return []string{"MISTRAL_API_KEY"}
	case domain.ProviderFireworks:
		return []string{"FIREWORKS_API_KEY"}
	case domain.ProviderGroq:
		return []string{"GROQ_API_KEY"}
	case domain.ProviderXAI:
		return []string{"XAI_API_KEY"}
	case domain.ProviderAzure:
		return []string{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"}
	case domain.ProviderBedrock:
		return []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION"}
	default:
		return nil
	}
}

// RoundRobin reports whether the provider's credentials should be shuffled
// per request to spread load.
func RoundRobin(p domain.Provider) bool {
	switch p {
	case domain.ProviderFireworks, domain.ProviderGroq:
		return true
	default:
		return false
	}
}
