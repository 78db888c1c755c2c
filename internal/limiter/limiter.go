// Package limiter throttles repeated failed reveals of the same document.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failed key attempts per document id.
type Limiter interface {
	// Allow reports whether a reveal of id may proceed and, if not, for how long it stays blocked.
	Allow(ctx context.Context, id string) (bool, time.Duration, error)
	// Success resets the failure count of id.
	Success(ctx context.Context, id string) error
	// Failure records a failed attempt and reports whether id is now blocked.
	Failure(ctx context.Context, id string) (bool, time.Duration, error)
}
