package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrTimeout means the call did not finish within its deadline
	ErrTimeout = errors.New("provider timeout")

	// ErrRateLimited means the provider rejected the call with a rate limit
	ErrRateLimited = errors.New("provider rate limited")

	// ErrInvalidResponse means the reply could not be parsed into a score
	ErrInvalidResponse = errors.New("invalid provider response")
)

// StatusError is an HTTP-level failure from a hand-rolled provider client
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Classify maps a provider error to an attempt outcome
func Classify(err error) model.AttemptOutcome {
	if err == nil {
		return model.OutcomeSuccess
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return model.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.OutcomeTimeout
	}
	if errors.Is(err, ErrRateLimited) {
		return model.OutcomeRateLimited
	}
	if statusCode(err) == 429 {
		return model.OutcomeRateLimited
	}
	return model.OutcomeError
}

func statusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
