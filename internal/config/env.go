package config

import (
	"fmt"
	"os"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
)

// envVendor maps a provider to its environment variable prefix.
var envVendor = map[domain.Provider]string{
	domain.ProviderOpenAI:    "OPENAI",
	domain.ProviderAnthropic: "ANTHROPIC",
	domain.ProviderGoogle:    "GEMINI",
	domain.ProviderMistral:   "MISTRAL",
	domain.ProviderFireworks: "FIREWORKS",
	domain.ProviderGroq:      "GROQ",
	domain.ProviderXAI:       "XAI",
}

// ProviderConfigsFromEnv resolves provider credentials from the environment.
// Each vendor reads <VENDOR>_API_KEY plus indexed variants (<VENDOR>_API_KEY_1,
// _2, ...) for multi-credential round-robin, and an optional <VENDOR>_URL
// endpoint override. Azure and Bedrock use their vendor-specific variables.
func ProviderConfigsFromEnv() []providers.Config {
	var out []providers.Config
	for _, p := range []domain.Provider{
		domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderGoogle,
		domain.ProviderMistral, domain.ProviderFireworks, domain.ProviderGroq,
		domain.ProviderXAI,
	} {
		prefix := envVendor[p]
		baseURL := os.Getenv(prefix + "_URL")
		for i, key := range indexedEnv(prefix + "_API_KEY") {
			out = append(out, providers.Config{
				ID:       fmt.Sprintf("%s#%d", p, i),
				Provider: p,
				APIKey:   key,
				BaseURL:  baseURL,
			})
		}
	}

	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		if endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); endpoint != "" {
			out = append(out, providers.Config{
				ID:              string(domain.ProviderAzure) + "#0",
				Provider:        domain.ProviderAzure,
				APIKey:          key,
				AzureEndpoint:   endpoint,
				AzureAPIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
			})
		}
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		out = append(out, providers.Config{
			ID:                 string(domain.ProviderBedrock) + "#0",
			Provider:           domain.ProviderBedrock,
			AWSRegion:          region,
			AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
	}
	return out
}

// indexedEnv collects NAME, NAME_1, NAME_2, ... stopping at the first gap
// after the unindexed key.
func indexedEnv(name string) []string {
	var out []string
	if v := os.Getenv(name); v != "" {
		out = append(out, v)
	}
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("%s_%d", name, i))
		if v == "" {
			break
		}
		out = append(out, v)
	}
	return out
}
