package eventbus

import "context"

// Handler processes one event. Under the broker bus the same event can be
// delivered more than once, so handlers should be idempotent.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}
