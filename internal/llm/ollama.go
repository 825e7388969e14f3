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

// OllamaProvider scores with a local model served by Ollama
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config
	log        *logrus.Entry
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	System  string        `json:"system,omitempty"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

func ollamaErrorMessage(body []byte) string {
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) != nil {
		return ""
	}
	return apiErr.Error
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 200
	}

	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// local models are slow to load
		httpClient: newHTTPClient(config, 60*time.Second),
		config:     config,
		log:        logging.New("llm").WithField("provider", "ollama"),
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable checks that the Ollama server answers
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	if err := doJSON(ctx, p.httpClient, http.MethodGet, p.baseURL+"/api/tags", nil, nil, nil, ollamaErrorMessage); err != nil {
		p.log.WithError(err).WithField("base_url", p.baseURL).Warn("Availability check failed")
		return false
	}
	return true
}

// Score rates text using a local model in JSON format mode
func (p *OllamaProvider) Score(ctx context.Context, text string) (*ScoreResponse, error) {
	prompt := BuildPrompt(text)
	req := ollamaRequest{
		Model:  p.config.Model,
		Prompt: prompt,
		System: SystemPrompt,
		Format: "json",
		Options: ollamaOptions{
			Temperature: 0.1,
			NumPredict:  p.config.MaxTokens,
		},
	}

	var resp ollamaResponse
	if err := doJSON(ctx, p.httpClient, http.MethodPost, p.baseURL+"/api/generate", nil, req, &resp, ollamaErrorMessage); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	score, reason, err := ParseScore(resp.Response)
	if err != nil {
		return nil, err
	}

	tokensUsed := resp.PromptEvalCount + resp.EvalCount
	if tokensUsed == 0 {
		// roughly 4 characters per token
		tokensUsed = (len(prompt) + len(resp.Response)) / 4
	}

	return &ScoreResponse{
		Score:      score,
		Rationale:  reason,
		Model:      resp.Model,
		TokensUsed: tokensUsed,
	}, nil
}
