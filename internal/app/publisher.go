/**
 * @description
 * Event publishing glue between the domain and the message broker. Committed
 * aggregate events go out under "account.<EventType>" routing keys and saga
 * lifecycle events under "saga.<EventType>", so consumers can bind with topic
 * patterns like "account.*" without knowing individual event names.
 */

package app

import (
	"context"
	"log"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

// EventPublisher publishes committed events to downstream consumers.
type EventPublisher interface {
	PublishAccountEvent(ctx context.Context, event domain.Event) error
	PublishSagaEvent(ctx context.Context, eventType, messageID string, payload interface{}) error
}

// BusPublisher adapts the generic rabbitmq publisher to the routing-key
// conventions of this service.
type BusPublisher struct {
	producer rabbitmq.Publisher
}

// NewBusPublisher creates a new BusPublisher.
func NewBusPublisher(producer rabbitmq.Publisher) *BusPublisher {
	return &BusPublisher{producer: producer}
}

// PublishAccountEvent publishes one committed aggregate event. The broker
// messageId is the event's own id so redeliveries stay deduplicatable.
func (p *BusPublisher) PublishAccountEvent(ctx context.Context, event domain.Event) error {
	routingKey := "account." + event.EventType
	if err := p.producer.Publish(ctx, routingKey, event.EventID.String(), event); err != nil {
		log.Printf("level=error component=event_publisher msg=\"account event publish failed\" routing_key=%s event_id=%s err=%v", routingKey, event.EventID, err)
		return err
	}
	return nil
}

// PublishSagaEvent publishes one saga lifecycle event.
func (p *BusPublisher) PublishSagaEvent(ctx context.Context, eventType, messageID string, payload interface{}) error {
	routingKey := "saga." + eventType
	if err := p.producer.Publish(ctx, routingKey, messageID, payload); err != nil {
		log.Printf("level=error component=event_publisher msg=\"saga event publish failed\" routing_key=%s message_id=%s err=%v", routingKey, messageID, err)
		return err
	}
	return nil
}
