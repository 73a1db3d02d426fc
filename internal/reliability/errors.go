package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownState is returned by a circuit breaker in an invalid state
	ErrUnknownState = errors.New("circuit breaker: unknown state")
)

// CircuitBreakerError is returned while a breaker rejects calls
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		return fmt.Sprintf("circuit breaker %s open: failures=%d/%d, retry after %s",
			e.Name, e.Failures, e.FailureThreshold, e.NextRetry.Format(time.RFC3339))
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: probe limit reached", e.Name)
	default:
		return fmt.Sprintf("circuit breaker %s rejected call in state %s", e.Name, e.State)
	}
}

// IsRetryable reports true: the breaker closes again after its timeout
func (e *CircuitBreakerError) IsRetryable() bool {
	return true
}

// RetryError is returned when a retry policy runs out of attempts
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}
