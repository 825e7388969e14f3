package score

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/sentinel/internal/llm"
	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/ppiankov/sentinel/internal/model"
)

// MockProvider scores with a fixed verdict or error
type MockProvider struct {
	name  string
	score int
	err   error
	block bool // wait for ctx to end
	calls atomic.Int32
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) IsAvailable(ctx context.Context) bool { return m.err == nil }

func (m *MockProvider) Score(ctx context.Context, text string) (*llm.ScoreResponse, error) {
	m.calls.Add(1)
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ScoreResponse{Score: m.score, Rationale: "mock", Model: m.name + "-model", TokensUsed: 10}, nil
}

type memorySink struct {
	mu       sync.Mutex
	attempts []model.ScoreAttempt
}

func (s *memorySink) RecordAttempt(ctx context.Context, a model.ScoreAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func outcomes(attempts []model.ScoreAttempt) []string {
	out := make([]string, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Provider+":"+string(a.Outcome))
	}
	return out
}

func newTestScorer(providers []llm.Provider, breakers *Breakers, sink AttemptSink) *Scorer {
	return NewScorer(providers, breakers, sink, Options{CallTimeout: 30 * time.Millisecond, AcceptThreshold: 4}, logging.Discard())
}

var rec = model.ContentRecord{ID: "r1", Text: "rates rise", Dedup: model.DedupUnique, Score: model.ScoreUnscored}

func TestScorer_FirstProviderSucceeds(t *testing.T) {
	first := &MockProvider{name: "groq", score: 7}
	second := &MockProvider{name: "openai", score: 9}
	sink := &memorySink{}

	s := newTestScorer([]llm.Provider{first, second}, NewBreakers(3, time.Minute), sink)
	res, err := s.Score(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != model.ScoreScored || res.Score != 7 || res.Provider != "groq" {
		t.Errorf("unexpected result: %s", res)
	}
	if second.calls.Load() != 0 {
		t.Error("second provider should not be called")
	}
	if len(sink.attempts) != 1 || sink.attempts[0].TokensUsed != 10 || sink.attempts[0].ID == "" {
		t.Errorf("unexpected audit trail: %+v", sink.attempts)
	}
}

func TestScorer_FailoverOnTimeoutAndRateLimit(t *testing.T) {
	slow := &MockProvider{name: "groq", block: true}
	limited := &MockProvider{name: "openai", err: &llm.StatusError{StatusCode: 429, Message: "slow down"}}
	good := &MockProvider{name: "anthropic", score: 8}
	sink := &memorySink{}

	s := newTestScorer([]llm.Provider{slow, limited, good}, NewBreakers(3, time.Minute), sink)
	res, err := s.Score(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != model.ScoreScored || res.Provider != "anthropic" {
		t.Errorf("unexpected result: %s", res)
	}

	want := []string{"groq:timeout", "openai:rate_limited", "anthropic:success"}
	if diff := cmp.Diff(want, outcomes(sink.attempts)); diff != "" {
		t.Errorf("attempts mismatch (-want +got):\n%s", diff)
	}
	if sink.attempts[0].Latency < 30*time.Millisecond {
		t.Errorf("expected timeout latency to be recorded, got %v", sink.attempts[0].Latency)
	}
}

func TestScorer_Exhausted(t *testing.T) {
	a := &MockProvider{name: "groq", err: errors.New("boom")}
	b := &MockProvider{name: "openai", err: llm.ErrInvalidResponse}
	sink := &memorySink{}

	s := newTestScorer([]llm.Provider{a, b}, NewBreakers(3, time.Minute), sink)
	res, err := s.Score(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != model.ScoreExhausted {
		t.Errorf("expected exhausted, got %s", res)
	}
	if diff := cmp.Diff([]string{"groq:error", "openai:error"}, outcomes(sink.attempts)); diff != "" {
		t.Errorf("attempts mismatch (-want +got):\n%s", diff)
	}
}

func TestScorer_AcceptThreshold(t *testing.T) {
	tests := []struct {
		score     int
		wantState model.ScoreState
		wantLabel string
	}{
		{1, model.ScoreDiscarded, "discard:hype"},
		{3, model.ScoreDiscarded, "discard:hype"},
		{4, model.ScoreScored, "scored:4"},
		{10, model.ScoreScored, "scored:10"},
	}
	for _, tt := range tests {
		p := &MockProvider{name: "groq", score: tt.score}
		s := newTestScorer([]llm.Provider{p}, NewBreakers(3, time.Minute), nil)
		res, err := s.Score(context.Background(), rec)
		if err != nil {
			t.Fatal(err)
		}
		if res.State != tt.wantState {
			t.Errorf("score %d: state = %s, want %s", tt.score, res.State, tt.wantState)
		}
		if got := res.Apply(rec).ScoreLabel(); got != tt.wantLabel {
			t.Errorf("score %d: label = %s, want %s", tt.score, got, tt.wantLabel)
		}
	}
}

func TestScorer_OpenBreakerSkipsProvider(t *testing.T) {
	failing := &MockProvider{name: "groq", err: errors.New("down")}
	good := &MockProvider{name: "openai", score: 6}
	breakers := NewBreakers(2, time.Minute)
	sink := &memorySink{}

	s := newTestScorer([]llm.Provider{failing, good}, breakers, sink)
	for i := 0; i < 3; i++ {
		if _, err := s.Score(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	if failing.calls.Load() != 2 {
		t.Errorf("expected failing provider to be called until its breaker opened, got %d calls", failing.calls.Load())
	}
	last := sink.attempts[len(sink.attempts)-2]
	if last.Provider != "groq" || last.Outcome != model.OutcomeSkipped {
		t.Errorf("expected skipped attempt for open breaker, got %+v", last)
	}
	if st := breakers.Get("groq").Snapshot(); st.Phase != model.BreakerOpen {
		t.Errorf("expected groq breaker open, got %s", st)
	}
}

func TestScorer_ParentCancelIsNotExhausted(t *testing.T) {
	slow := &MockProvider{name: "groq", block: true}
	breakers := NewBreakers(1, time.Minute)
	s := NewScorer([]llm.Provider{slow}, breakers, nil, Options{CallTimeout: time.Second}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := s.Score(ctx, rec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.State == model.ScoreExhausted {
		t.Error("cancelled scoring must not produce exhausted")
	}
	if st := breakers.Get("groq").Snapshot(); st.Phase != model.BreakerClosed || st.ConsecutiveFailures != 0 {
		t.Errorf("cancellation must not count against the provider: %+v", st)
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("groq", 2, time.Minute)
	b.now = func() time.Time { return now }

	b.Failure()
	if !b.Allow() {
		t.Fatal("breaker should stay closed below threshold")
	}
	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should be open after threshold failures")
	}
	if got := b.Snapshot().String(); got != "open-until:2025-01-01T00:01:00Z" {
		t.Errorf("unexpected state %s", got)
	}

	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected half-open trial after cooldown")
	}
	if b.Allow() {
		t.Fatal("only one half-open trial may be in flight")
	}
	if b.Snapshot().Phase != model.BreakerHalfOpen {
		t.Errorf("expected half-open, got %s", b.Snapshot())
	}

	// trial fails: open again for a full cooldown
	b.Failure()
	if b.Allow() {
		t.Fatal("failed trial should reopen the breaker")
	}

	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected second trial")
	}
	b.Success()
	if st := b.Snapshot(); st.Phase != model.BreakerClosed || st.ConsecutiveFailures != 0 {
		t.Errorf("expected closed after successful trial, got %+v", st)
	}
}

func TestBreaker_ReleaseReturnsTrial(t *testing.T) {
	now := time.Now()
	b := NewBreaker("groq", 1, time.Second)
	b.now = func() time.Time { return now }

	b.Failure()
	now = now.Add(time.Second)
	if !b.Allow() {
		t.Fatal("expected trial")
	}
	b.Release()
	if !b.Allow() {
		t.Error("released trial should be available again")
	}
}

func TestBreakers_SnapshotSorted(t *testing.T) {
	r := NewBreakers(1, time.Minute)
	r.Get("openai")
	r.Get("groq").Failure()

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Provider != "groq" || snap[0].Phase != model.BreakerOpen {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if r.Get("groq") != r.Get("groq") {
		t.Error("expected the same breaker instance per provider")
	}
}
