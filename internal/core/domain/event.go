package domain

import "time"

type EventKind string

const (
	EventOrderCreated EventKind = "orderCreated"
	EventOrderUpdated EventKind = "orderUpdated"
)

// LifecycleEvent is never persisted. Observers that connect after it was
// published do not see it.
type LifecycleEvent struct {
	Kind        EventKind     `json:"-"`
	DisplayCode string        `json:"orderID"`
	Lines       []LineRequest `json:"orders,omitempty"`
	Order       *Order        `json:"order,omitempty"`
	Stock       []StockLevel  `json:"stock,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

func OrderCreated(code string, lines []LineRequest, at time.Time) LifecycleEvent {
	cp := make([]LineRequest, len(lines))
	copy(cp, lines)
	return LifecycleEvent{
		Kind:        EventOrderCreated,
		DisplayCode: code,
		Lines:       cp,
		OccurredAt:  at,
	}
}

func OrderUpdated(code string, order Order, stock []StockLevel, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		Kind:        EventOrderUpdated,
		DisplayCode: code,
		Order:       &order,
		Stock:       stock,
		OccurredAt:  at,
	}
}
