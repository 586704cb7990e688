package agent

import (
	"fmt"
	"os"
)

// Options selects and configures a provider explicitly. Empty fields fall
// back to the provider's defaults.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New creates a completer from explicit options.
func New(opts Options) (Completer, string, error) {
	switch opts.Provider {
	case "", "openai":
		if opts.APIKey == "" {
			return nil, "", fmt.Errorf("openai provider requires an API key")
		}
		model := opts.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAI(opts.APIKey, model, opts.BaseURL), model, nil

	case "anthropic":
		if opts.APIKey == "" {
			return nil, "", fmt.Errorf("anthropic provider requires an API key")
		}
		model := opts.Model
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}
		return NewAnthropic(opts.APIKey, model), model, nil

	case "ollama":
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		model := opts.Model
		if model == "" {
			model = "llama3.1"
		}
		apiKey := opts.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		return NewOpenAI(apiKey, model, baseURL), model, nil

	case "lmstudio":
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:1234/v1"
		}
		model := opts.Model
		if model == "" {
			model = "local-model"
		}
		apiKey := opts.APIKey
		if apiKey == "" {
			apiKey = "lm-studio"
		}
		return NewOpenAI(apiKey, model, baseURL), model, nil

	case "deepseek":
		if opts.APIKey == "" {
			return nil, "", fmt.Errorf("deepseek provider requires an API key")
		}
		model := opts.Model
		if model == "" {
			model = "deepseek-chat"
		}
		return NewOpenAI(opts.APIKey, model, "https://api.deepseek.com/v1"), model, nil

	case "groq":
		if opts.APIKey == "" {
			return nil, "", fmt.Errorf("groq provider requires an API key")
		}
		model := opts.Model
		if model == "" {
			model = "llama-3.1-70b-versatile"
		}
		return NewOpenAI(opts.APIKey, model, "https://api.groq.com/openai/v1"), model, nil

	case "http":
		if opts.BaseURL == "" {
			return nil, "", fmt.Errorf("http provider requires a base URL")
		}
		return NewHTTP(opts.BaseURL), "remote", nil

	default:
		return nil, "", fmt.Errorf("unknown provider: %s (supported: openai, anthropic, ollama, lmstudio, deepseek, groq, http)", opts.Provider)
	}
}

// NewFromEnv creates a completer from AI_PROVIDER and the matching
// provider-specific environment variables.
func NewFromEnv() (Completer, string, error) {
	provider := os.Getenv("AI_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	opts := Options{Provider: provider}
	switch provider {
	case "openai":
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
		opts.Model = os.Getenv("OPENAI_MODEL")
		opts.BaseURL = os.Getenv("OPENAI_BASE_URL")
	case "anthropic":
		opts.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		opts.Model = os.Getenv("ANTHROPIC_MODEL")
	case "ollama":
		opts.APIKey = os.Getenv("OLLAMA_API_KEY")
		opts.Model = os.Getenv("OLLAMA_MODEL")
		opts.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	case "lmstudio":
		opts.APIKey = os.Getenv("LMSTUDIO_API_KEY")
		opts.Model = os.Getenv("LMSTUDIO_MODEL")
		opts.BaseURL = os.Getenv("LMSTUDIO_BASE_URL")
	case "deepseek":
		opts.APIKey = os.Getenv("DEEPSEEK_API_KEY")
		opts.Model = os.Getenv("DEEPSEEK_MODEL")
	case "groq":
		opts.APIKey = os.Getenv("GROQ_API_KEY")
		opts.Model = os.Getenv("GROQ_MODEL")
	case "http":
		opts.BaseURL = os.Getenv("VRITE_AGENT_URL")
	}
	return New(opts)
}
