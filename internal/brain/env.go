package brain

import "os"

// FromEnv builds a ProviderManager from environment configuration.
//
// Recognized variables: OPENAI_API_KEY, GEMINI_API_KEY, OLLAMA_ENDPOINT,
// plus DAILYBRIEF_MODEL_PROVIDER to pin a preferred provider and
// DAILYBRIEF_MODEL to override the provider's default model.
func FromEnv() *ProviderManager {
	model := os.Getenv("DAILYBRIEF_MODEL")

	pm := NewProviderManager()
	pm.AddProvider(NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"), model))
	pm.AddProvider(NewGeminiProvider(os.Getenv("GEMINI_API_KEY"), model))
	pm.AddProvider(NewOllamaProvider(os.Getenv("OLLAMA_ENDPOINT"), model))

	if preferred := os.Getenv("DAILYBRIEF_MODEL_PROVIDER"); preferred != "" {
		pm.SetPreferred(preferred)
	}
	return pm
}
