package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "groq":
		return NewGroqProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: openai, groq, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts one configured chain entry to llm.Config
func ConfigFromModel(pc model.ProviderConfig, timeout time.Duration, httpCfg model.HTTPConfig) Config {
	cfg := DefaultConfig()
	cfg.Provider = pc.Name
	cfg.Model = pc.Model
	cfg.APIKey = pc.APIKey
	cfg.BaseURL = pc.BaseURL
	if pc.MaxTokens > 0 {
		cfg.MaxTokens = pc.MaxTokens
	}
	if secs := int(timeout / time.Second); secs > 0 {
		cfg.Timeout = secs
	}
	cfg.HTTPProxy = httpCfg.HTTPProxy
	cfg.HTTPSProxy = httpCfg.HTTPSProxy
	cfg.NoProxy = httpCfg.NoProxy
	return cfg
}

// BuildChain creates the ordered provider chain. Entries that cannot be
// constructed (usually a missing API key) are returned in skipped.
func BuildChain(entries []model.ProviderConfig, timeout time.Duration, httpCfg model.HTTPConfig) (chain []Provider, skipped map[string]error) {
	skipped = make(map[string]error)
	for _, pc := range entries {
		p, err := NewProvider(ConfigFromModel(pc, timeout, httpCfg))
		if err != nil {
			skipped[pc.Name] = err
			continue
		}
		chain = append(chain, p)
	}
	return chain, skipped
}
