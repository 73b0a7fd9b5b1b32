package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-shop-fulfillment/internal/kafka"
)

const (
	TopicDelivery = "bot.outbound.delivery"
	TopicNotify   = "bot.outbound.notify"

	EventAssetDelivery = "AssetDelivery"
	EventNotification  = "Notification"
)

type AssetDeliveryPayload struct {
	ActorID int64  `json:"actor_id"`
	Payload string `json:"payload"`
}

type NotificationPayload struct {
	ActorID int64  `json:"actor_id"`
	Message string `json:"message"`
}

// KafkaMessenger publishes delivery/notification events for the bot
// process to consume and format.
type KafkaMessenger struct {
	Delivery *kafkax.Producer
	Notifier *kafkax.Producer
	Service  string
}

func (m *KafkaMessenger) DeliverAsset(ctx context.Context, actorID int64, payload string) error {
	m.publish(m.Delivery, EventAssetDelivery, kafkax.MustMarshal(AssetDeliveryPayload{
		ActorID: actorID, Payload: payload,
	}))
	return nil
}

func (m *KafkaMessenger) Notify(ctx context.Context, actorID int64, message string) error {
	m.publish(m.Notifier, EventNotification, kafkax.MustMarshal(NotificationPayload{
		ActorID: actorID, Message: message,
	}))
	return nil
}

func (m *KafkaMessenger) publish(p *kafkax.Producer, eventType string, payload []byte) {
	ev := kafkax.Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     m.Service,
		Payload:      payload,
	}
	p.Publish(kafkax.PartitionKey(ev.EventID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
