package llm

import (
	"context"
	"fmt"
	"os"

	"mastermind/internal/config"
	"mastermind/internal/logging"
	"mastermind/internal/ratelimit"
)

// NewHandler assembles the dispatch stack from config: primary provider,
// optional fallbacks, shared rate limiter, breakers. The provider comes
// from explicit config or, failing that, from whichever API key the
// environment carries (resolved by config loading).
func NewHandler(ctx context.Context, cfg config.LLMConfig, rlCfg config.RateLimitConfig) (*Dispatcher, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("no LLM provider configured; set llm.provider or one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, OPENROUTER_API_KEY")
	}

	providers := make([]Provider, 0, 1+len(cfg.Fallbacks))
	secrets := make([]string, 0, 1+len(cfg.Fallbacks))

	primary, key, err := newProvider(ctx, cfg.Provider, cfg, true)
	if err != nil {
		return nil, err
	}
	providers = append(providers, primary)
	if key != "" {
		secrets = append(secrets, key)
	}

	for _, name := range cfg.Fallbacks {
		if name == cfg.Provider {
			continue
		}
		p, fkey, err := newProvider(ctx, name, cfg, false)
		if err != nil {
			logging.LLMWarn("fallback provider %s not available: %v", name, err)
			continue
		}
		providers = append(providers, p)
		if fkey != "" {
			secrets = append(secrets, fkey)
		}
	}

	d := NewDispatcher(cfg, ratelimit.New(rlCfg), providers...)
	d.SetSecrets(secrets...)
	logging.Boot("llm dispatch ready: primary=%s fallbacks=%d key=%s",
		cfg.Provider, len(providers)-1, RedactKey(cfg.APIKey))
	return d, nil
}

// newProvider resolves one adapter. The configured model applies only to
// the primary; fallbacks use their own defaults. Fallback keys come from
// the provider's environment variable.
func newProvider(ctx context.Context, name string, cfg config.LLMConfig, primary bool) (Provider, string, error) {
	model := ""
	if primary {
		model = cfg.Model
	}

	key := ""
	if primary {
		key = cfg.APIKey
	}
	if key == "" {
		key = os.Getenv(config.ProviderKeyEnv(name))
	}

	switch name {
	case config.ProviderMock:
		return NewMockProvider(NewMockHandler()), "", nil
	case config.ProviderAnthropic:
		if key == "" {
			return nil, "", fmt.Errorf("anthropic: missing API key")
		}
		return NewAnthropicClient(key, model), key, nil
	case config.ProviderOpenAI:
		if key == "" {
			return nil, "", fmt.Errorf("openai: missing API key")
		}
		return NewOpenAIClient(key, model), key, nil
	case config.ProviderOpenRouter:
		if key == "" {
			return nil, "", fmt.Errorf("openrouter: missing API key")
		}
		return NewOpenRouterClient(key, model, cfg.BaseURL), key, nil
	case config.ProviderGemini:
		if key == "" {
			return nil, "", fmt.Errorf("gemini: missing API key")
		}
		p, err := NewGeminiClient(ctx, key, model)
		if err != nil {
			return nil, "", err
		}
		return p, key, nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q", name)
	}
}
