package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sashabaranov/go-openai"
)

// GenerationError wraps a failed backend call. Transient errors (rate
// limits, 5xx, network timeouts) are eligible for the scheduler's bounded
// retry; permanent errors fail the entry immediately.
type GenerationError struct {
	Op        string // "answer" or "followups"
	Transient bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient GenerationError.
func IsTransient(err error) bool {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Transient
	}
	return false
}

func wrapGenerationError(op string, err error) *GenerationError {
	return &GenerationError{Op: op, Transient: classifyTransient(err), Err: err}
}

func classifyTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
