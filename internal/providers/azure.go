package providers

import (
	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// NewAzure builds an adapter for Azure OpenAI. Azure shares the OpenAI wire
// format but authenticates with a region-scoped api-key header and routes
// by deployment name.
func NewAzure(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
	if cfg.AzureAPIVersion != "" {
		clientCfg.APIVersion = cfg.AzureAPIVersion
	}
	// Deployment names cannot contain dots.
	clientCfg.AzureModelMapperFunc = azureDeploymentName

	return &OpenAIAdapter{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		variant: variant{
			name:              domain.ProviderAzure,
			defaultModel:      "gpt-4.1",
			urlFilesSupported: true,
			jsonWithTools:     true,
			sanitize: func(md *catalog.ModelData) {
				// Azure regions lag the OpenAI feature set.
				md.Supports.InputAudio = false
			},
		},
	}
}

func azureDeploymentName(model string) string {
	out := make([]byte, 0, len(model))
	for i := 0; i < len(model); i++ {
		switch c := model[i]; c {
		case '.', ':':
			out = append(out, '-')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
