package context

import "strings"

// Exchange is one user input paired with the completion it produced.
// It is a value type; the fields cannot be changed after construction.
type Exchange struct {
	input    string
	response string
}

// NewExchange creates an exchange.
func NewExchange(input, response string) Exchange {
	return Exchange{input: input, response: response}
}

func (e Exchange) Input() string    { return e.input }
func (e Exchange) Response() string { return e.response }

const (
	humanPrefix = "Human"
	aiPrefix    = "AI"
)

// FormatHistory renders exchanges oldest first as
// "Human: <input>\nAI: <response>" lines joined by newlines.
func FormatHistory(exchanges []Exchange) string {
	if len(exchanges) == 0 {
		return ""
	}
	var b strings.Builder
	for i, ex := range exchanges {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(humanPrefix)
		b.WriteString(": ")
		b.WriteString(ex.input)
		b.WriteByte('\n')
		b.WriteString(aiPrefix)
		b.WriteString(": ")
		b.WriteString(ex.response)
	}
	return b.String()
}
