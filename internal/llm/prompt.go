package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPromptChars caps how much content is sent to a provider
const MaxPromptChars = 4000

// SystemPrompt instructs the model to answer with a bare JSON verdict
const SystemPrompt = `You are a news credibility analyst. Rate the following content on a scale of 1-10:
- 1-3: Hype, clickbait, unverified claims, sensationalism
- 4-6: Mixed credibility, some facts but also speculation
- 7-10: Factual, well-sourced, objective reporting

Respond ONLY with a JSON object: {"score": <int>, "reason": "<one sentence>"}`

// BuildPrompt constructs the user message for one item
func BuildPrompt(text string) string {
	if utf8.RuneCountInString(text) > MaxPromptChars {
		text = string([]rune(text)[:MaxPromptChars])
	}
	return "Content to rate:\n\n" + text
}

type verdict struct {
	Score  json.Number `json:"score"`
	Reason string      `json:"reason"`
}

// ParseScore extracts the verdict from a model reply. Code fences and
// surrounding prose are tolerated; a missing or out-of-range score is an error.
func ParseScore(content string) (int, string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return 0, "", fmt.Errorf("%w: no JSON object in reply", ErrInvalidResponse)
	}

	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if v.Score == "" {
		return 0, "", fmt.Errorf("%w: missing score", ErrInvalidResponse)
	}

	f, err := v.Score.Float64()
	if err != nil {
		return 0, "", fmt.Errorf("%w: score %q is not a number", ErrInvalidResponse, v.Score)
	}
	score := int(f)
	if float64(score) != f || score < 1 || score > 10 {
		return 0, "", fmt.Errorf("%w: score %v outside 1..10", ErrInvalidResponse, f)
	}

	return score, strings.TrimSpace(v.Reason), nil
}
