package eventbus

import (
	"context"
)

// EventBus is implemented by LocalEventBus and BrokerEventBus.
//
// Subscribe returns as soon as the handler is registered, even when the
// backend still has to wire a consumer in the background. Publish on an
// event type nobody listens to is a no-op. Connect and Disconnect may be
// called any number of times, in any order.
type EventBus interface {
	Subscribe(eventType EventType, handler Handler) (*Subscription, error)
	Publish(ctx context.Context, event Event) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// NopConnector gives in-process buses the no-op lifecycle.
type NopConnector struct{}

func (NopConnector) Connect(context.Context) error {
	return nil
}

func (NopConnector) Disconnect(context.Context) error {
	return nil
}
