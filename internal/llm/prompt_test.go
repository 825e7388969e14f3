package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

func TestParseScore(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantScore  int
		wantReason string
		wantErr    bool
	}{
		{"plain", `{"score": 7, "reason": "ok"}`, 7, "ok", false},
		{"fenced", "```json\n{\"score\": 2, \"reason\": \"hype\"}\n```", 2, "hype", false},
		{"prose around", `Sure! {"score": 10, "reason": "solid"} Hope this helps.`, 10, "solid", false},
		{"string score", `{"score": "5", "reason": "meh"}`, 5, "meh", false},
		{"float integral", `{"score": 4.0}`, 4, "", false},
		{"float fractional", `{"score": 4.5}`, 0, "", true},
		{"zero", `{"score": 0}`, 0, "", true},
		{"eleven", `{"score": 11}`, 0, "", true},
		{"missing score", `{"reason": "none"}`, 0, "", true},
		{"no json", `seven`, 0, "", true},
		{"broken json", `{"score": }`, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reason, err := ParseScore(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidResponse) {
					t.Fatalf("expected ErrInvalidResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if score != tt.wantScore || reason != tt.wantReason {
				t.Errorf("ParseScore() = %d, %q; want %d, %q", score, reason, tt.wantScore, tt.wantReason)
			}
		})
	}
}

func TestBuildPrompt_Truncates(t *testing.T) {
	long := strings.Repeat("é", MaxPromptChars+100)
	prompt := BuildPrompt(long)
	if got := strings.Count(prompt, "é"); got != MaxPromptChars {
		t.Errorf("expected %d runes of content, got %d", MaxPromptChars, got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.AttemptOutcome
	}{
		{"nil", nil, model.OutcomeSuccess},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), model.OutcomeTimeout},
		{"sentinel timeout", ErrTimeout, model.OutcomeTimeout},
		{"429", &StatusError{StatusCode: 429}, model.OutcomeRateLimited},
		{"wrapped 429", fmt.Errorf("x: %w", &StatusError{StatusCode: 429}), model.OutcomeRateLimited},
		{"500", &StatusError{StatusCode: 500}, model.OutcomeError},
		{"parse", ErrInvalidResponse, model.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildChain_SkipsUnconfigured(t *testing.T) {
	entries := []model.ProviderConfig{
		{Name: "groq", APIKey: "k1"},
		{Name: "openai"}, // no key
		{Name: "ollama", Model: "llama3.1:8b"},
		{Name: "bard"},
	}
	chain, skipped := BuildChain(entries, 5*time.Second, model.HTTPConfig{})

	var names []string
	for _, p := range chain {
		names = append(names, p.Name())
	}
	if strings.Join(names, ",") != "groq,ollama" {
		t.Errorf("unexpected chain order: %v", names)
	}
	if len(skipped) != 2 || skipped["openai"] == nil || skipped["bard"] == nil {
		t.Errorf("unexpected skipped map: %v", skipped)
	}
}
