package context

import "testing"

func TestSimpleCompressor_Truncate(t *testing.T) {
	c := &SimpleCompressor{MaxExchanges: 2}
	in := []Exchange{
		NewExchange("a", "1"),
		NewExchange("b", "2"),
		NewExchange("c", "3"),
	}
	result := c.Compress(in)
	if len(result) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(result))
	}
	if result[0].Input() != "b" {
		t.Errorf("expected 'b', got %q", result[0].Input())
	}
	if result[1].Input() != "c" {
		t.Errorf("expected 'c', got %q", result[1].Input())
	}
}

func TestSimpleCompressor_NoTruncation(t *testing.T) {
	c := &SimpleCompressor{MaxExchanges: 5}
	in := []Exchange{NewExchange("a", "1"), NewExchange("b", "2")}
	result := c.Compress(in)
	if len(result) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(result))
	}
}

func TestSimpleCompressor_EmptyInput(t *testing.T) {
	c := &SimpleCompressor{MaxExchanges: 3}
	result := c.Compress(nil)
	if len(result) != 0 {
		t.Fatalf("expected 0 exchanges, got %d", len(result))
	}
}

func TestSimpleCompressor_ZeroMaxKeepsNothing(t *testing.T) {
	c := &SimpleCompressor{MaxExchanges: 0}
	result := c.Compress([]Exchange{NewExchange("a", "1")})
	if len(result) != 0 {
		t.Fatalf("expected 0 exchanges with zero max, got %d", len(result))
	}
}
