package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// groqBaseURL is Groq's OpenAI-compatible endpoint
const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible APIs (Groq)
type OpenAIProvider struct {
	name   string
	client *openai.Client
	config Config
	log    *logrus.Entry
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(config, 30*time.Second)

	return &OpenAIProvider{
		name:   "openai",
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		log:    logging.New("llm").WithField("provider", "openai"),
	}, nil
}

// NewGroqProvider creates a provider for Groq's OpenAI-compatible API
func NewGroqProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Groq API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = groqBaseURL
	}
	if config.Model == "" {
		config.Model = "llama-3.1-70b-versatile"
	}

	p, err := NewOpenAIProvider(config)
	if err != nil {
		return nil, err
	}
	p.name = "groq"
	p.log = p.log.WithField("provider", "groq")
	return p, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	if _, err := p.client.ListModels(ctx); err != nil {
		p.log.WithError(err).Warn("Availability check failed")
		return false
	}
	return true
}

// Score rates text using the Chat Completions API in JSON mode
func (p *OpenAIProvider) Score(ctx context.Context, text string) (*ScoreResponse, error) {
	model := p.config.Model
	if model == "" {
		model = openai.GPT4o
	}

	maxTokens := p.config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 200
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildPrompt(text),
			},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices from %s", ErrInvalidResponse, p.name)
	}

	score, reason, err := ParseScore(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, err
	}

	return &ScoreResponse{
		Score:      score,
		Rationale:  reason,
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
