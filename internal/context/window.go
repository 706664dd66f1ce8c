package context

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidWindowSize is returned for a negative window capacity.
var ErrInvalidWindowSize = errors.New("window size must be >= 0")

// PromptTooLargeError is returned by RenderWithin when the prompt exceeds the
// token budget even with no history.
type PromptTooLargeError struct {
	Tokens int
	Budget int
}

func (e *PromptTooLargeError) Error() string {
	return fmt.Sprintf("rendered prompt too large: tokens=%d budget=%d", e.Tokens, e.Budget)
}

// Window keeps the last k exchanges of a conversation and renders them into
// a prompt. It is owned by a single session and is not safe for concurrent
// use.
type Window struct {
	k          int
	exchanges  []Exchange
	compressor Compressor
	assembler  Assembler
}

// NewWindow creates an empty window of capacity k over tmpl.
func NewWindow(tmpl *Template, k int) (*Window, error) {
	if tmpl == nil {
		return nil, &TemplateError{Missing: []string{HistoryKey, InputKey}}
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindowSize, k)
	}
	return &Window{
		k:          k,
		exchanges:  make([]Exchange, 0, k),
		compressor: &SimpleCompressor{MaxExchanges: k},
		assembler:  &TemplateAssembler{Template: tmpl},
	}, nil
}

// NewWindowFromText parses text and creates a window over it. No window is
// created when the template is malformed.
func NewWindowFromText(text string, k int) (*Window, error) {
	tmpl, err := ParseTemplate(text)
	if err != nil {
		return nil, err
	}
	return NewWindow(tmpl, k)
}

// Render returns the prompt for input with all held exchanges as history.
func (w *Window) Render(input string) string {
	return w.assembler.Assemble(w.exchanges, input)
}

// RenderWithin renders like Render but leaves out the oldest exchanges until
// the estimated token count fits maxTokens. The window itself is not
// modified. maxTokens <= 0 means no budget.
func (w *Window) RenderWithin(input string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return w.Render(input), nil
	}
	for skip := 0; skip <= len(w.exchanges); skip++ {
		prompt := w.assembler.Assemble(w.exchanges[skip:], input)
		if EstimateTokens(prompt) <= maxTokens {
			return prompt, nil
		}
	}
	prompt := w.assembler.Assemble(nil, input)
	return "", &PromptTooLargeError{Tokens: EstimateTokens(prompt), Budget: maxTokens}
}

// Record appends an exchange and evicts the oldest one if the window is over
// capacity.
func (w *Window) Record(input, response string) {
	w.exchanges = append(w.exchanges, NewExchange(input, response))
	w.exchanges = w.compressor.Compress(w.exchanges)
}

// Exchanges returns a copy of the held exchanges, oldest first.
func (w *Window) Exchanges() []Exchange {
	out := make([]Exchange, len(w.exchanges))
	copy(out, w.exchanges)
	return out
}

func (w *Window) Len() int      { return len(w.exchanges) }
func (w *Window) Capacity() int { return w.k }

// EstimateTokens approximates the token count of text at four characters per
// token.
func EstimateTokens(text string) int {
	chars := utf8.RuneCountInString(text)
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
