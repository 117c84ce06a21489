package cache

import (
	"context"
	"time"
)

// Counter is the shared fixed-window counter behind rate limiting. IncrementWithTTL returns the
// count within the current window and the time left until it closes.
type Counter interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
