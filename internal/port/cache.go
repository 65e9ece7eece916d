package port

import (
	"context"
	"time"
)

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key whose request did not complete
	ReleaseIdempotency(ctx context.Context, key string) error
}

type ReadingCache interface {
	// GetReading returns the cached reading, ok is false on a miss
	GetReading(ctx context.Context, key string) (value float64, ok bool, err error)

	SetReading(ctx context.Context, key string, value float64, ttl time.Duration) error
}
