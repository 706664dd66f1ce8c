package control

import (
	"context"
	"fmt"
	"time"
)

// Policy defines per-call limits. A zero MaxWallTime means no limit.
type Policy struct {
	MaxWallTime time.Duration
}

// DefaultPolicy returns the default per-call policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxWallTime: 120 * time.Second,
	}
}

// LimitType identifies which limit is reached.
type LimitType string

const (
	LimitWallTime LimitType = "max_wall_time_seconds"
)

// LimitError indicates a turn limit was reached.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

// WithWallTime derives a context bounded by the policy's wall time.
func WithWallTime(ctx context.Context, p Policy) (context.Context, context.CancelFunc) {
	if p.MaxWallTime <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.MaxWallTime)
}
