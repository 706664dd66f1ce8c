package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stupiduntilnot/windowchat/internal/control"
)

type providerFunc func(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error)

func (f providerFunc) Complete(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error) {
	return f(ctx, prompt, params)
}

func TestInvoker_ReturnsOutputUnmodified(t *testing.T) {
	var gotPrompt string
	var gotParams GenerationParams
	p := providerFunc(func(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error) {
		gotPrompt = prompt
		gotParams = params
		return CompletionResponse{Content: "  raw output\n\n"}, nil
	})
	params := GenerationParams{MaxNewTokens: 512, Temperature: 0.7, TopP: 0.95, RepetitionPenalty: 1.15}
	inv := NewInvoker(p, params)

	out, err := inv.Complete(context.Background(), "the prompt")
	if err != nil {
		t.Fatal(err)
	}
	if out != "  raw output\n\n" {
		t.Fatalf("output should not be post-processed, got %q", out)
	}
	if gotPrompt != "the prompt" {
		t.Fatalf("unexpected prompt %q", gotPrompt)
	}
	if gotParams != params {
		t.Fatalf("params not forwarded verbatim: %+v", gotParams)
	}
}

func TestInvoker_WrapsProviderError(t *testing.T) {
	cause := errors.New("CUDA out of memory")
	p := providerFunc(func(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error) {
		return CompletionResponse{}, cause
	})
	calls := 0
	counting := providerFunc(func(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error) {
		calls++
		return p(ctx, prompt, params)
	})
	inv := NewInvoker(counting, GenerationParams{})

	_, err := inv.Complete(context.Background(), "x")
	var cErr *CompletionError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be attached: %v", err)
	}
	if cErr.Class != "provider" {
		t.Fatalf("unexpected class %q", cErr.Class)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestInvoker_WallTimeLimit(t *testing.T) {
	p := providerFunc(func(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error) {
		<-ctx.Done()
		return CompletionResponse{}, ctx.Err()
	})
	inv := NewInvoker(p, GenerationParams{}, WithPolicy(control.Policy{MaxWallTime: 20 * time.Millisecond}))

	_, err := inv.Complete(context.Background(), "x")
	var limitErr *control.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError in chain, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
	var cErr *CompletionError
	if !errors.As(err, &cErr) || cErr.Class != "timeout" {
		t.Fatalf("expected timeout CompletionError, got %v", err)
	}
}

func TestInvoker_CallerCancellation(t *testing.T) {
	p := providerFunc(func(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error) {
		<-ctx.Done()
		return CompletionResponse{}, ctx.Err()
	})
	cb := control.NewCircuitBreaker(1, time.Minute)
	inv := NewInvoker(p, GenerationParams{}, WithCircuitBreaker(cb))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.Complete(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if cb.State() != control.CircuitClosed {
		t.Fatalf("caller cancellation must not trip the breaker, state=%s", cb.State())
	}
}

func TestInvoker_CircuitOpenFailsFast(t *testing.T) {
	calls := 0
	p := providerFunc(func(ctx context.Context, prompt string, params GenerationParams) (CompletionResponse, error) {
		calls++
		return CompletionResponse{}, errors.New("backend down")
	})
	cb := control.NewCircuitBreaker(2, time.Hour)
	inv := NewInvoker(p, GenerationParams{}, WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		if _, err := inv.Complete(context.Background(), "x"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if cb.State() != control.CircuitOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}

	_, err := inv.Complete(context.Background(), "x")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("provider should not be called while open, calls=%d", calls)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, "canceled"},
		{context.DeadlineExceeded, "timeout"},
		{ErrCircuitOpen, "circuit_open"},
		{errors.New("boom"), "provider"},
	}
	for _, c := range cases {
		if got := ClassifyError(c.err); got != c.want {
			t.Fatalf("ClassifyError(%v)=%q want %q", c.err, got, c.want)
		}
	}
}
