package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// EventMessage is the envelope published for order and recycling domain events.
type EventMessage struct {
	EventID    string         `json:"eventId"`
	Kind       string         `json:"kind"`
	SubjectRef string         `json:"subjectRef"`
	UserID     string         `json:"userId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

type publishTopic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubEventPublisher publishes domain events to order and recycling topics.
type PubSubEventPublisher struct {
	orderTopic     publishTopic
	recyclingTopic publishTopic
	marshal        func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed domain event publisher.
// Either topic may be nil; publishes to a missing topic return an error so the
// caller can decide whether the event is best effort.
func NewPubSubEventPublisher(orderTopic, recyclingTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil && recyclingTopic == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	p := &PubSubEventPublisher{marshal: json.Marshal}
	if orderTopic != nil {
		p.orderTopic = orderTopic
	}
	if recyclingTopic != nil {
		p.recyclingTopic = recyclingTopic
	}
	return p, nil
}

// PublishOrderEvent enqueues an order lifecycle event.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, message EventMessage) (string, error) {
	if p == nil || p.orderTopic == nil {
		return "", errors.New("pubsub event publisher: order topic not configured")
	}
	return p.publish(ctx, p.orderTopic, message)
}

// PublishRecyclingEvent enqueues a recycling submission event.
func (p *PubSubEventPublisher) PublishRecyclingEvent(ctx context.Context, message EventMessage) (string, error) {
	if p == nil || p.recyclingTopic == nil {
		return "", errors.New("pubsub event publisher: recycling topic not configured")
	}
	return p.publish(ctx, p.recyclingTopic, message)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, topic publishTopic, message EventMessage) (string, error) {
	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", message.EventID)
	setAttr(attrs, "kind", message.Kind)
	setAttr(attrs, "subjectRef", message.SubjectRef)
	setAttr(attrs, "userId", message.UserID)

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
