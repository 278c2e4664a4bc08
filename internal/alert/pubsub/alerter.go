// Package pubsub implements a Google Cloud Pub/Sub alerter.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/lexhaven/regtruth/internal/alert"
)

// Alerter publishes alert events to a Pub/Sub topic, from which downstream
// notifiers (Slack, email) fan out.
type Alerter struct {
	topic *pubsub.Topic
}

// New creates an Alerter for the provided topic.
func New(topic *pubsub.Topic) (*Alerter, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Alerter{topic: topic}, nil
}

// SendAlert marshals the event to JSON and publishes it, blocking until the
// server acknowledges.
func (a *Alerter) SendAlert(ctx context.Context, event alert.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":   string(event.Kind),
			"source": event.Source,
		},
	}
	result := a.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
