package context

// Compressor bounds an exchange list to a window capacity.
type Compressor interface {
	Compress(exchanges []Exchange) []Exchange
}

// Assembler renders history and the new user input into a single prompt.
type Assembler interface {
	Assemble(history []Exchange, input string) string
}
