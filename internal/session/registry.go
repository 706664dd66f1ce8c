package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ctxpkg "github.com/stupiduntilnot/windowchat/internal/context"
)

// defaultCloseWait bounds how long Close waits for abandoned turns to report.
const defaultCloseWait = 5 * time.Second

// Greeting is sent to the user when a session is ready.
const Greeting = "Model loaded. How can I help you today?"

// Options configure every session a Registry starts.
type Options struct {
	Template        string
	WindowSize      int
	MaxPromptTokens int
	Observer        Observer
	Logger          *zap.Logger
}

// Registry owns the sessions of one transport, keyed by session id.
type Registry struct {
	completer Completer
	opts      Options
	newID     func() string
	closeWait time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry whose sessions share completer.
func NewRegistry(completer Completer, opts Options) *Registry {
	if opts.Observer == nil {
		opts.Observer = Observers(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		completer: completer,
		opts:      opts,
		newID:     uuid.NewString,
		closeWait: defaultCloseWait,
		sessions:  map[string]*Session{},
	}
}

// Start creates a session. The template is parsed here, so a malformed one
// fails with *context.TemplateError and no session is registered.
func (r *Registry) Start() (*Session, error) {
	window, err := ctxpkg.NewWindowFromText(r.opts.Template, r.opts.WindowSize)
	if err != nil {
		r.opts.Logger.Error("session start failed", zap.Error(err))
		return nil, err
	}
	id := r.newID()
	s := &Session{
		id:              id,
		completer:       r.completer,
		maxPromptTokens: r.opts.MaxPromptTokens,
		observer:        r.opts.Observer,
		logger:          r.opts.Logger.Named("session").With(zap.String("session_id", id)),
		startedAt:       time.Now(),
		window:          window,
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	s.logger.Info("session started", zap.Int("window_size", r.opts.WindowSize))
	r.opts.Observer.SessionStarted(id)
	return s, nil
}

// Get returns the open session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// End removes and closes the session, abandoning any in-flight turn.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.End()
	return nil
}

// IDs returns the ids of open sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every session, then waits until the turns it abandoned have
// reached the observer, so callers can release what observers write to.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*Session{}
	r.mu.Unlock()

	var pending []*Turn
	for _, s := range sessions {
		if t, ok := s.end(); ok && t != nil {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return
	}

	timer := time.NewTimer(r.closeWait)
	defer timer.Stop()
	for i, t := range pending {
		select {
		case <-t.reported:
		case <-timer.C:
			r.opts.Logger.Warn("close: turns still running", zap.Int("pending", len(pending)-i))
			return
		}
	}
}
