// Package ratelimit implements fixed-window request limiting keyed by an
// arbitrary client key (IP, user id).
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("rate limit backend unavailable")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
