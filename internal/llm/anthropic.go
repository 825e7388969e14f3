package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/sirupsen/logrus"
)

const (
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
)

// AnthropicProvider scores through the Anthropic Messages API
type AnthropicProvider struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	config     Config
	log        *logrus.Entry
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

// text joins every text block of the reply
func (r anthropicResponse) text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func anthropicErrorMessage(body []byte) string {
	var apiErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Error.Message == "" {
		return ""
	}
	return apiErr.Error.Type + " - " + apiErr.Error.Message
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(config Config) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if config.Model == "" {
		config.Model = anthropicDefaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 200
	}

	return &AnthropicProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		headers: map[string]string{
			"x-api-key":         config.APIKey,
			"anthropic-version": anthropicVersion,
		},
		httpClient: newHTTPClient(config, 30*time.Second),
		config:     config,
		log:        logging.New("llm").WithField("provider", "anthropic"),
	}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable lists models, which checks the key without spending tokens
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	err := doJSON(ctx, p.httpClient, http.MethodGet, p.baseURL+"/v1/models", p.headers, nil, nil, anthropicErrorMessage)
	if err != nil {
		p.log.WithError(err).Warn("Availability check failed")
		return false
	}
	return true
}

// Score rates text using the Messages API
func (p *AnthropicProvider) Score(ctx context.Context, text string) (*ScoreResponse, error) {
	req := anthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		System:      SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: BuildPrompt(text)}},
		Temperature: 0.1,
	}

	var resp anthropicResponse
	if err := doJSON(ctx, p.httpClient, http.MethodPost, p.baseURL+"/v1/messages", p.headers, req, &resp, anthropicErrorMessage); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	reply := resp.text()
	if reply == "" {
		return nil, fmt.Errorf("%w: no text content in anthropic response", ErrInvalidResponse)
	}

	score, reason, err := ParseScore(reply)
	if err != nil {
		return nil, err
	}

	return &ScoreResponse{
		Score:      score,
		Rationale:  reason,
		Model:      resp.Model,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}
