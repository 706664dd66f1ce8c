package context

import (
	"fmt"
	"strings"
)

const (
	HistoryKey = "history"
	InputKey   = "input"
)

// DefaultTemplate is the chat-markup template used when none is configured.
const DefaultTemplate = `<|im_start|>system
You are a helpful assistant that provides information and engages in casual conversation. Respond naturally to user queries and provide useful information.<|im_end|>
<|im_start|>user
{history}
Human: {input}
<|im_end|>
<|im_start|>assistant
Assistant:`

// TemplateError reports a malformed prompt template.
type TemplateError struct {
	Missing []string
	Unknown []string
	Offset  int
	Reason  string
}

func (e *TemplateError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, fmt.Sprintf("%s at offset %d", e.Reason, e.Offset))
	}
	for _, name := range e.Missing {
		parts = append(parts, fmt.Sprintf("missing placeholder {%s}", name))
	}
	for _, name := range e.Unknown {
		parts = append(parts, fmt.Sprintf("unknown placeholder {%s}", name))
	}
	return "prompt template: " + strings.Join(parts, "; ")
}

type segment struct {
	text        string
	placeholder string
}

// Template is a parsed prompt template with {history} and {input} slots.
// Literal braces are written as {{ and }}.
type Template struct {
	text     string
	segments []segment
}

// ParseTemplate parses text and checks that exactly the {history} and
// {input} placeholders are present.
func ParseTemplate(text string) (*Template, error) {
	segments, err := parseSegments(text)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var unknown []string
	for _, s := range segments {
		if s.placeholder == "" {
			continue
		}
		if s.placeholder != HistoryKey && s.placeholder != InputKey {
			if !seen[s.placeholder] {
				unknown = append(unknown, s.placeholder)
			}
		}
		seen[s.placeholder] = true
	}
	var missing []string
	for _, key := range []string{HistoryKey, InputKey} {
		if !seen[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		return nil, &TemplateError{Missing: missing, Unknown: unknown}
	}
	return &Template{text: text, segments: segments}, nil
}

func parseSegments(text string) ([]segment, error) {
	var segments []segment
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, &TemplateError{Reason: "unclosed '{'", Offset: i}
			}
			name := text[i+1 : i+1+end]
			if !validName(name) {
				return nil, &TemplateError{Reason: fmt.Sprintf("invalid placeholder %q", name), Offset: i}
			}
			flush()
			segments = append(segments, segment{placeholder: name})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, &TemplateError{Reason: "single '}'", Offset: i}
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segments, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Text returns the template source.
func (t *Template) Text() string {
	return t.text
}

// Execute substitutes history and input into the template.
func (t *Template) Execute(history, input string) string {
	var b strings.Builder
	b.Grow(len(t.text) + len(history) + len(input))
	for _, s := range t.segments {
		switch s.placeholder {
		case "":
			b.WriteString(s.text)
		case HistoryKey:
			b.WriteString(history)
		case InputKey:
			b.WriteString(input)
		}
	}
	return b.String()
}
