package port

import (
	"context"

	"github.com/rl1809/order-stream/internal/core/domain"
)

// EventPublisher must not block the caller.
type EventPublisher interface {
	Publish(event domain.LifecycleEvent)
}

type CrowdEstimator interface {
	Estimate(ctx context.Context) (float64, error)
}
