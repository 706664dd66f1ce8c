package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stupiduntilnot/windowchat/internal/control"
)

// ErrCircuitOpen is the cause of a CompletionError when the breaker rejects
// the call without reaching the provider.
var ErrCircuitOpen = errors.New("completion backend unavailable: circuit open")

// CompletionError reports a failed completion call. Cause is the underlying
// provider, limit or context error.
type CompletionError struct {
	Class string
	Cause error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Cause)
}

func (e *CompletionError) Unwrap() error {
	return e.Cause
}

// Invoker calls a Provider with fixed generation parameters.
type Invoker struct {
	provider Provider
	params   GenerationParams
	policy   control.Policy
	circuit  *control.CircuitBreaker
	now      func() time.Time
}

type InvokerOption func(*Invoker)

// WithPolicy bounds every call by the policy's wall time.
func WithPolicy(p control.Policy) InvokerOption {
	return func(i *Invoker) { i.policy = p }
}

// WithCircuitBreaker makes the invoker fail fast while cb is open.
func WithCircuitBreaker(cb *control.CircuitBreaker) InvokerOption {
	return func(i *Invoker) { i.circuit = cb }
}

func NewInvoker(p Provider, params GenerationParams, opts ...InvokerOption) *Invoker {
	inv := &Invoker{provider: p, params: params, now: time.Now}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Params returns the generation parameters forwarded on every call.
func (i *Invoker) Params() GenerationParams {
	return i.params
}

// Complete makes a single attempt and returns the provider output unmodified.
// Every failure is a *CompletionError.
func (i *Invoker) Complete(ctx context.Context, prompt string) (string, error) {
	if i.circuit != nil && !i.circuit.Allow(i.now()) {
		return "", &CompletionError{Class: "circuit_open", Cause: ErrCircuitOpen}
	}

	callCtx, cancel := control.WithWallTime(ctx, i.policy)
	defer cancel()

	startedAt := i.now()
	resp, err := i.provider.Complete(callCtx, prompt, i.params)
	if err != nil {
		// The caller's context is still live, so the deadline was ours.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && i.policy.MaxWallTime > 0 {
			limitErr := &control.LimitError{
				Type:      control.LimitWallTime,
				Value:     int64(i.now().Sub(startedAt).Seconds()),
				Threshold: int64(i.policy.MaxWallTime.Seconds()),
			}
			err = fmt.Errorf("%w: %w", limitErr, err)
		}
		class := ClassifyError(err)
		if i.circuit != nil && class != "canceled" {
			i.circuit.RecordFailure(class, i.now())
		}
		return "", &CompletionError{Class: class, Cause: err}
	}
	if i.circuit != nil {
		i.circuit.RecordSuccess()
	}
	return resp.Content, nil
}

// ClassifyError maps an error to a coarse class used by the circuit breaker
// and metrics.
func ClassifyError(err error) string {
	var limitErr *control.LimitError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &limitErr), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "provider"
	}
}
