// Package resilience wraps calls to remote collaborators with bounded
// retries and a circuit breaker per operation name, so a dead vision
// sidecar cannot trip the breaker guarding queue publishes.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification tells the executor how to treat one failure: whether
// the call may be retried and whether the breaker should count it.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

type Executor struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		config:   cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Execute runs call under the retry policy and, when enabled, the breaker
// registered for operation. The classifier decides per error what counts as
// retryable; a nil classifier treats every error as final.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	call func(context.Context) error,
	classify ErrorClassifier,
) error {
	if call == nil {
		return fmt.Errorf("resilience: nil call for %q", operation)
	}
	name := strings.TrimSpace(operation)
	if name == "" {
		name = "unnamed"
	}
	if classify == nil {
		classify = func(error) ErrorClassification {
			return ErrorClassification{RecordFailure: true}
		}
	}

	if !e.config.BreakerEnabled {
		return e.retry(ctx, name, call, classify)
	}

	_, err := e.breakerFor(name, classify).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, name, call, classify)
	})
	return err
}

func (e *Executor) retry(
	ctx context.Context,
	name string,
	call func(context.Context) error,
	classify ErrorClassifier,
) error {
	backoff := e.config.RetryInitialBackoff

	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		if attempt >= e.config.RetryMaxAttempts || !classify(err).Retryable {
			return err
		}

		slog.Warn("collaborator_retry",
			"operation", name,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)
		if !sleepContext(ctx, backoff) {
			return err
		}
		backoff = min(time.Duration(float64(backoff)*e.config.RetryMultiplier), e.config.RetryMaxBackoff)
	}
}

func (e *Executor) breakerFor(name string, classify ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[name]; ok {
		return breaker
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: e.config.BreakerHalfOpenMaxCalls,
		Timeout:     e.config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= e.config.BreakerMinRequests &&
				float64(counts.TotalFailures) >= e.config.BreakerFailureRatio*float64(counts.Requests)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_state_change",
				"operation", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	e.breakers[name] = breaker
	return breaker
}

// IsCircuitOpen reports whether err came from an open or saturated breaker
// rather than from the collaborator itself.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
