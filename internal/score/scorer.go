// Package score runs the credibility scoring chain: an ordered list of LLM
// providers, each guarded by a circuit breaker and a per-call deadline.
package score

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/sentinel/internal/llm"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/sirupsen/logrus"
)

// AttemptSink receives every audit entry the scorer produces
type AttemptSink interface {
	RecordAttempt(ctx context.Context, a model.ScoreAttempt) error
}

// Result is the outcome of scoring one record
type Result struct {
	State         model.ScoreState
	Score         int
	DiscardReason string
	Rationale     string
	Provider      string
	Model         string
	Attempts      []model.ScoreAttempt
}

// Apply copies the verdict onto a clone of rec
func (r Result) Apply(rec model.ContentRecord) model.ContentRecord {
	out := rec.Clone()
	out.Score = r.State
	out.ScoreValue = r.Score
	out.DiscardReason = r.DiscardReason
	out.Rationale = r.Rationale
	out.ScoredBy = r.Provider
	return out
}

// Options configures a Scorer
type Options struct {
	CallTimeout     time.Duration
	AcceptThreshold int // scores below this are discarded as hype
}

// Scorer walks the provider chain until one succeeds
type Scorer struct {
	providers []llm.Provider
	breakers  *Breakers
	sink      AttemptSink
	opts      Options
	log       *logrus.Entry
	now       func() time.Time
}

// NewScorer creates a scorer over an ordered chain. breakers is shared by
// every scorer in the process.
func NewScorer(providers []llm.Provider, breakers *Breakers, sink AttemptSink, opts Options, log *logrus.Entry) *Scorer {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.AcceptThreshold <= 0 {
		opts.AcceptThreshold = 4
	}
	return &Scorer{
		providers: providers,
		breakers:  breakers,
		sink:      sink,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Providers returns the chain order by name
func (s *Scorer) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	return names
}

// Score rates rec. An exhausted chain is a normal Result; an error is only
// returned when ctx ends first, in which case no verdict should be persisted.
func (s *Scorer) Score(ctx context.Context, rec model.ContentRecord) (Result, error) {
	var attempts []model.ScoreAttempt

	for _, p := range s.providers {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts}, err
		}

		name := p.Name()
		breaker := s.breakers.Get(name)
		if !breaker.Allow() {
			attempts = append(attempts, s.record(ctx, model.ScoreAttempt{
				RecordID: rec.ID,
				Provider: name,
				Outcome:  model.OutcomeSkipped,
				Error:    breaker.Snapshot().String(),
			}))
			continue
		}

		start := s.now()
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		resp, err := p.Score(callCtx, rec.Text)
		cancel()
		latency := s.now().Sub(start)

		if err != nil && ctx.Err() != nil {
			// the job was cancelled; this says nothing about the provider
			breaker.Release()
			return Result{Attempts: attempts}, ctx.Err()
		}

		attempt := model.ScoreAttempt{
			RecordID: rec.ID,
			Provider: name,
			Outcome:  llm.Classify(err),
			Latency:  latency,
		}

		if err != nil {
			breaker.Failure()
			attempt.Error = err.Error()
			attempts = append(attempts, s.record(ctx, attempt))
			s.log.WithError(err).WithFields(logrus.Fields{
				"provider":  name,
				"record_id": rec.ID,
				"outcome":   attempt.Outcome,
			}).Warn("Provider call failed, advancing chain")
			continue
		}

		breaker.Success()
		attempt.Model = resp.Model
		attempt.TokensUsed = resp.TokensUsed
		attempts = append(attempts, s.record(ctx, attempt))

		result := Result{
			State:     model.ScoreScored,
			Score:     resp.Score,
			Rationale: resp.Rationale,
			Provider:  name,
			Model:     resp.Model,
			Attempts:  attempts,
		}
		if resp.Score < s.opts.AcceptThreshold {
			result.State = model.ScoreDiscarded
			result.DiscardReason = model.DiscardHype
		}
		return result, nil
	}

	s.log.WithFields(logrus.Fields{
		"record_id": rec.ID,
		"attempts":  len(attempts),
	}).Warn("Provider chain exhausted")
	return Result{State: model.ScoreExhausted, Attempts: attempts}, nil
}

// record stamps and stores one attempt. A failed audit write is logged;
// the verdict itself is still returned.
func (s *Scorer) record(ctx context.Context, a model.ScoreAttempt) model.ScoreAttempt {
	a.ID = uuid.NewString()
	a.At = s.now().UTC()
	if s.sink != nil {
		if err := s.sink.RecordAttempt(ctx, a); err != nil {
			s.log.WithError(err).WithField("provider", a.Provider).Error("Failed to record score attempt")
		}
	}
	return a
}

// String renders a short summary for logs and the CLI
func (r Result) String() string {
	switch r.State {
	case model.ScoreScored:
		return fmt.Sprintf("scored:%d by %s", r.Score, r.Provider)
	case model.ScoreDiscarded:
		return fmt.Sprintf("discard:%s (%d) by %s", r.DiscardReason, r.Score, r.Provider)
	default:
		return string(r.State)
	}
}
