package config

import (
	"os"
)

// SeedProviders returns the providers to insert into an empty database: the
// configured list, or, when none is configured, one provider per vendor
// whose API key is present in the environment.
func (c *ServerConfig) SeedProviders() []ProviderSeed {
	if len(c.Providers) > 0 {
		return c.Providers
	}
	return EnvSeeds()
}

// EnvSeeds builds provider seeds from well-known vendor environment
// variables.
func EnvSeeds() []ProviderSeed {
	var seeds []ProviderSeed

	if apiKey := getOpenAIAPIKeyFromEnv(); apiKey != "" {
		seeds = append(seeds, ProviderSeed{
			Name:    "OpenAI",
			Type:    "openai",
			BaseURL: getOpenAIBaseURLFromEnv(),
			Model:   getOpenAIModelFromEnv(),
			APIKey:  apiKey,
		})
	}
	if apiKey := getAnthropicAPIKeyFromEnv(); apiKey != "" {
		seeds = append(seeds, ProviderSeed{
			Name:   "Anthropic",
			Type:   "anthropic",
			Model:  os.Getenv("ANTHROPIC_MODEL"),
			APIKey: apiKey,
		})
	}
	if apiKey := getGoogleAPIKeyFromEnv(); apiKey != "" {
		seeds = append(seeds, ProviderSeed{
			Name:   "Gemini",
			Type:   "google",
			Model:  os.Getenv("GEMINI_MODEL"),
			APIKey: apiKey,
		})
	}

	return seeds
}

// getOpenAIAPIKeyFromEnv gets the OpenAI API key from environment variable.
func getOpenAIAPIKeyFromEnv() string {
	return os.Getenv("OPENAI_API_KEY")
}

// getOpenAIBaseURLFromEnv gets the OpenAI base URL from environment variable.
func getOpenAIBaseURLFromEnv() string {
	return os.Getenv("OPENAI_BASE_URL")
}

// getOpenAIModelFromEnv gets the OpenAI model from environment variable.
func getOpenAIModelFromEnv() string {
	return os.Getenv("OPENAI_MODEL")
}

func getAnthropicAPIKeyFromEnv() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// getGoogleAPIKeyFromEnv prefers GEMINI_API_KEY over GOOGLE_API_KEY.
func getGoogleAPIKeyFromEnv() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_API_KEY")
}
