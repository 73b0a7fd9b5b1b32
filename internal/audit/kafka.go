package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-shop-fulfillment/internal/kafka"
)

const (
	TopicTransitions = "fulfillment.order.transitions"

	EventTransitionRecorded = "TransitionRecorded"
)

type TransitionPayload struct {
	OrderID    string         `json:"order_id"`
	ActorID    int64          `json:"actor_id,omitempty"`
	FromStatus string         `json:"from_status"`
	ToStatus   string         `json:"to_status"`
	Context    map[string]any `json:"context,omitempty"`
}

// KafkaRecorder publishes transition events; auditd persists them.
type KafkaRecorder struct {
	Producer *kafkax.Producer
	Service  string
}

func (r *KafkaRecorder) RecordTransition(ctx context.Context, orderID string, actorID int64, from, to string, extra map[string]any) error {
	ev := kafkax.Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventTransitionRecorded,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      r.Service,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(TransitionPayload{
			OrderID: orderID, ActorID: actorID, FromStatus: from, ToStatus: to, Context: extra,
		}),
	}
	r.Producer.Publish(kafkax.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventTransitionRecorded)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}
