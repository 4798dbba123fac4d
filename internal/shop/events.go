package shop

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEventPayload carries the full order representation so downstream
// consumers never have to re-query it.
type OrderEventPayload struct {
	Order          Order  `json:"order"`
	UserEmail      string `json:"user_email,omitempty"`
	PreviousStatus Status `json:"previous_status,omitempty"`
}

// Dispatcher receives committed order mutations. The persistence layer
// calls it after every successful commit; implementations must not block
// and must never surface a failure to the caller.
type Dispatcher interface {
	OrderPlaced(o Order)
	OrderStatusChanged(o Order, previous Status)
}

// NopDispatcher drops events. Useful for tools and tests.
type NopDispatcher struct{}

func (NopDispatcher) OrderPlaced(Order)                {}
func (NopDispatcher) OrderStatusChanged(Order, Status) {}
