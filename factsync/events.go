package factsync

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/venue_backend/config"
)

// EventPublisher announces synced venue-days to downstream consumers.
type EventPublisher interface {
	PublishVenueDay(ctx context.Context, msg config.VenueDaySyncedMessage) error
}

type pubsubEventPublisher struct {
	topic string
}

// NewPubSubEventPublisher returns nil for an empty topic, which disables events.
func NewPubSubEventPublisher(topic string) EventPublisher {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil
	}
	return &pubsubEventPublisher{topic: topic}
}

func (p *pubsubEventPublisher) PublishVenueDay(ctx context.Context, msg config.VenueDaySyncedMessage) error {
	_, err := config.PublishJSON(ctx, p.topic, msg)
	return err
}
