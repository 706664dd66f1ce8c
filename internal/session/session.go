package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	ctxpkg "github.com/stupiduntilnot/windowchat/internal/context"
	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
)

var (
	ErrBusy          = errors.New("session busy: a turn is already in flight")
	ErrSessionClosed = errors.New("session closed")
	ErrNotFound      = errors.New("session not found")
	ErrAbandoned     = errors.New("turn abandoned")
)

// Completer turns a rendered prompt into a completion. *model.Invoker
// implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Session is one conversation: a context window plus at most one in-flight
// turn. All window access goes through the session lock, so the window
// itself needs no synchronization.
type Session struct {
	id              string
	completer       Completer
	maxPromptTokens int
	observer        Observer
	logger          *zap.Logger
	startedAt       time.Time

	mu      sync.Mutex
	window  *ctxpkg.Window
	closed  bool
	pending *Turn
	seq     int
}

// Turn is a cancellable in-flight request.
type Turn struct {
	session  *Session
	seq      int
	input    string
	cancel   context.CancelFunc
	done     chan struct{}
	reported chan struct{} // closed after observers saw TurnFinished

	// guarded by session.mu
	abandoned bool
	finished  bool
	response  string
	err       error
}

func (s *Session) ID() string { return s.id }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Exchanges returns a snapshot of the window, oldest first.
func (s *Session) Exchanges() []ctxpkg.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Exchanges()
}

// Closed reports whether End has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Submit renders the prompt for input and starts the completion on its own
// goroutine. ctx bounds the turn; cancelling it abandons the turn.
func (s *Session) Submit(ctx context.Context, input string) (*Turn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.seq++
	seq := s.seq
	prompt, err := s.window.RenderWithin(input, s.maxPromptTokens)
	windowLen := s.window.Len()
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("prompt rejected", zap.Int("seq", seq), zap.Error(err))
		s.observer.TurnFinished(TurnEvent{
			SessionID: s.id,
			Seq:       seq,
			Input:     input,
			WindowLen: windowLen,
			Outcome:   OutcomeFailed,
			Err:       err,
			ErrClass:  "prompt_too_large",
		})
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &Turn{
		session:  s,
		seq:      seq,
		input:    input,
		cancel:   cancel,
		done:     make(chan struct{}),
		reported: make(chan struct{}),
	}
	s.pending = t
	s.mu.Unlock()

	promptTokens := ctxpkg.EstimateTokens(prompt)
	s.logger.Debug("turn started", zap.Int("seq", seq), zap.Int("prompt_tokens", promptTokens), zap.Int("window_len", windowLen))
	s.observer.TurnStarted(TurnEvent{
		SessionID:    s.id,
		Seq:          seq,
		Input:        input,
		PromptTokens: promptTokens,
		WindowLen:    windowLen,
	})

	go s.run(turnCtx, t, prompt, promptTokens)
	return t, nil
}

func (s *Session) run(ctx context.Context, t *Turn, prompt string, promptTokens int) {
	startedAt := time.Now()
	response, err := s.completer.Complete(ctx, prompt)

	s.mu.Lock()
	abandoned := t.abandoned || s.closed || ctx.Err() != nil
	if !abandoned && err == nil {
		s.window.Record(t.input, response)
	}
	windowLen := s.window.Len()
	if s.pending == t {
		s.pending = nil
	}
	t.finished = true
	switch {
	case abandoned:
		t.err = ErrAbandoned
	case err != nil:
		t.err = err
	default:
		t.response = response
	}
	s.mu.Unlock()
	t.cancel()
	close(t.done)

	ev := TurnEvent{
		SessionID:    s.id,
		Seq:          t.seq,
		Input:        t.input,
		PromptTokens: promptTokens,
		WindowLen:    windowLen,
		Duration:     time.Since(startedAt),
	}
	switch {
	case abandoned:
		ev.Outcome = OutcomeAbandoned
		ev.Err = ErrAbandoned
		s.logger.Info("turn abandoned", zap.Int("seq", t.seq), zap.Duration("duration", ev.Duration))
	case err != nil:
		ev.Outcome = OutcomeFailed
		ev.Err = err
		ev.ErrClass = errClass(err)
		s.logger.Warn("turn failed", zap.Int("seq", t.seq), zap.String("class", ev.ErrClass), zap.Error(err))
	default:
		ev.Outcome = OutcomeCompleted
		ev.Response = response
		s.logger.Debug("turn completed", zap.Int("seq", t.seq), zap.Duration("duration", ev.Duration), zap.Int("window_len", windowLen))
	}
	s.observer.TurnFinished(ev)
	close(t.reported)
}

func errClass(err error) string {
	var cErr *modelpkg.CompletionError
	if errors.As(err, &cErr) && cErr.Class != "" {
		return cErr.Class
	}
	return modelpkg.ClassifyError(err)
}

// Send submits input and waits for the completion.
func (s *Session) Send(ctx context.Context, input string) (string, error) {
	t, err := s.Submit(ctx, input)
	if err != nil {
		return "", err
	}
	return t.Wait(ctx)
}

// End closes the session and abandons any in-flight turn. It is idempotent
// and reports whether this call closed the session.
func (s *Session) End() bool {
	_, ok := s.end()
	return ok
}

// end closes the session and returns the turn it abandoned, if any.
func (s *Session) end() (*Turn, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	s.closed = true
	pending := s.pending
	if pending != nil {
		pending.abandonLocked()
	}
	s.mu.Unlock()
	s.logger.Info("session ended", zap.Duration("age", time.Since(s.startedAt)))
	s.observer.SessionEnded(s.id)
	return pending, true
}

func (t *Turn) Seq() int { return t.seq }

// Done is closed once the turn has a result.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finishes or ctx is done. If ctx ends first the
// turn is abandoned and its response, if any, is discarded.
func (t *Turn) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
	}
	t.session.mu.Lock()
	defer t.session.mu.Unlock()
	if !t.finished {
		t.abandonLocked()
		return "", fmt.Errorf("%w: %w", ErrAbandoned, ctx.Err())
	}
	return t.response, t.err
}

// Cancel abandons the turn. A response arriving afterwards is not recorded.
// Cancel after the turn finished is a no-op.
func (t *Turn) Cancel() {
	t.session.mu.Lock()
	defer t.session.mu.Unlock()
	if t.finished {
		return
	}
	t.abandonLocked()
}

func (t *Turn) abandonLocked() {
	t.abandoned = true
	if t.session.pending == t {
		t.session.pending = nil
	}
	t.cancel()
}
