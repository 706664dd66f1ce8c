package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/windowchat/internal/commander"
	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
)

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "echo" || token == "block" {
			actions = append(actions, action{kind: token})
			continue
		}
		if strings.HasPrefix(token, "err:") {
			actions = append(actions, action{kind: "err", arg: strings.TrimPrefix(token, "err:")})
			continue
		}
		if strings.HasPrefix(token, "sleep:") {
			actions = append(actions, action{kind: "sleep", arg: strings.TrimPrefix(token, "sleep:")})
			continue
		}
		if strings.HasPrefix(token, "msg:") {
			actions = append(actions, action{kind: "msg", arg: strings.TrimPrefix(token, "msg:")})
			continue
		}
		if strings.HasPrefix(token, "msgb64:") {
			actions = append(actions, action{kind: "msgb64", arg: strings.TrimPrefix(token, "msgb64:")})
			continue
		}
		return nil, fmt.Errorf("invalid dummy action: %s", token)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// SentMessage is a message delivered through Commander.
type SentMessage struct {
	ChatID    int64
	Text      string
	WithReset bool
}

// Commander is a scripted chat transport. Poll actions produce updates, send
// actions decide whether deliveries fail.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []SentMessage
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.poll.next()
	switch a.kind {
	case "ok":
		return nil, nil
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		ms, _ := strconv.Atoi(a.arg)
		if ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
		return nil, nil
	case "msg":
		text := a.arg
		msg := text
		c.updateID++
		return []cmdpkg.Update{
			{
				UpdateID: c.updateID,
				Message: &cmdpkg.Message{
					Chat: cmdpkg.Chat{ID: 1},
					Text: &msg,
					Date: time.Now().Unix(),
				},
			},
		}, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		msg := string(raw)
		c.updateID++
		return []cmdpkg.Update{
			{
				UpdateID: c.updateID,
				Message: &cmdpkg.Message{
					Chat: cmdpkg.Chat{ID: 1},
					Text: &msg,
					Date: time.Now().Unix(),
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) SendMessage(chatID int64, text string) error {
	return c.deliver(SentMessage{ChatID: chatID, Text: text})
}

func (c *Commander) SendWithReset(chatID int64, text string) error {
	return c.deliver(SentMessage{ChatID: chatID, Text: text, WithReset: true})
}

// Sent returns the messages delivered so far.
func (c *Commander) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

func (c *Commander) deliver(m SentMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.send.next()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		ms, _ := strconv.Atoi(a.arg)
		if ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	}
	c.sent = append(c.sent, m)
	return nil
}

// Provider is a scripted completion backend. Actions are consumed in order
// and the last one repeats.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  int
	last   string
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

// Calls returns how many completions were requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// LastPrompt returns the most recent prompt received.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Provider) Complete(ctx context.Context, prompt string, params modelpkg.GenerationParams) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.calls++
	p.last = prompt
	p.mu.Unlock()

	switch a.kind {
	case "ok":
		return response(emptyAs(a.arg, "dummy-ok")), nil
	case "echo":
		return response(prompt), nil
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		ms, _ := strconv.Atoi(a.arg)
		if ms > 0 {
			timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return modelpkg.CompletionResponse{}, ctx.Err()
			}
		}
		return response("dummy-after-sleep"), nil
	case "block":
		<-ctx.Done()
		return modelpkg.CompletionResponse{}, ctx.Err()
	case "msg":
		return response(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return response(string(raw)), nil
	default:
		return response("dummy-ok"), nil
	}
}

func response(content string) modelpkg.CompletionResponse {
	return modelpkg.CompletionResponse{Content: content, InputTokens: 1, OutputTokens: 1}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
