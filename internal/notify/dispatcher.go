package notify

import (
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "shopcore/internal/kafka"
	"shopcore/internal/shop"
)

// KafkaDispatcher implements shop.Dispatcher by enqueueing envelopes on
// the async producers. It never blocks and never reports failure back to
// the commit path.
type KafkaDispatcher struct {
	Placed  *kafkax.Producer
	Status  *kafkax.Producer
	Service string
}

func (d *KafkaDispatcher) OrderPlaced(o shop.Order) {
	key, value := d.envelope(shop.EventOrderPlaced, o, "")
	d.Placed.Publish(key, value,
		kafkago.Header{Key: "x-event-type", Value: []byte(shop.EventOrderPlaced)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (d *KafkaDispatcher) OrderStatusChanged(o shop.Order, previous shop.Status) {
	key, value := d.envelope(shop.EventOrderStatusChanged, o, previous)
	d.Status.Publish(key, value,
		kafkago.Header{Key: "x-event-type", Value: []byte(shop.EventOrderStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (d *KafkaDispatcher) envelope(eventType string, o shop.Order, previous shop.Status) (key, value []byte) {
	ev := shop.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      d.Service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(shop.OrderEventPayload{
			Order:          o,
			UserEmail:      o.UserEmail,
			PreviousStatus: previous,
		}),
	}
	return shop.PartitionKey(o.ID), kafkax.MustMarshal(ev)
}
