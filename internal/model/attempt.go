package model

import "time"

// AttemptOutcome classifies a single provider call made by the scorer
type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeTimeout     AttemptOutcome = "timeout"
	OutcomeRateLimited AttemptOutcome = "rate_limited"
	OutcomeError       AttemptOutcome = "error"
	OutcomeSkipped     AttemptOutcome = "skipped" // circuit open, no call made
)

// ScoreAttempt is one append-only audit entry for a provider call
type ScoreAttempt struct {
	ID         string         `json:"id"`
	RecordID   string         `json:"record_id"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model,omitempty"`
	Outcome    AttemptOutcome `json:"outcome"`
	Latency    time.Duration  `json:"latency"`
	TokensUsed int            `json:"tokens_used"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}

// BreakerPhase is the circuit state of one provider
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half-open"
)

// ProviderState is a point-in-time snapshot of a provider's circuit breaker
type ProviderState struct {
	Provider            string       `json:"provider"`
	Phase               BreakerPhase `json:"phase"`
	OpenUntil           time.Time    `json:"open_until,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// String renders the state as closed, half-open or open-until:<RFC3339>
func (s ProviderState) String() string {
	if s.Phase == BreakerOpen {
		return "open-until:" + s.OpenUntil.UTC().Format(time.RFC3339)
	}
	return string(s.Phase)
}

// JobState is the scheduler state of a recurring job
type JobState string

const (
	JobIdle     JobState = "idle"
	JobRunning  JobState = "running"
	JobBackoff  JobState = "backoff"
	JobDegraded JobState = "degraded"
)

// JobStatus is the admin-facing view of one scheduled job
type JobStatus struct {
	ID                  string        `json:"id"`
	State               JobState      `json:"state"`
	Interval            time.Duration `json:"interval"`
	LastRun             time.Time     `json:"last_run,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}
