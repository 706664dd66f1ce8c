package context

// SimpleCompressor keeps only the last MaxExchanges exchanges.
type SimpleCompressor struct {
	MaxExchanges int
}

// Compress drops the oldest exchanges beyond MaxExchanges. A zero or
// negative maximum keeps nothing.
func (c *SimpleCompressor) Compress(exchanges []Exchange) []Exchange {
	if c.MaxExchanges <= 0 {
		return exchanges[:0]
	}
	if len(exchanges) <= c.MaxExchanges {
		return exchanges
	}
	return exchanges[len(exchanges)-c.MaxExchanges:]
}
