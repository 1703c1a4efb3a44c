package eventbus

import "sync"

// Subscription is returned by Subscribe. Cancel removes the handler for
// future deliveries; a handler already running is not interrupted.
type Subscription struct {
	id        uint64
	eventType EventType
	once      sync.Once
	cancel    func()
}

func newSubscription(id uint64, eventType EventType, cancel func()) *Subscription {
	return &Subscription{
		id:        id,
		eventType: eventType,
		cancel:    cancel,
	}
}

func (subscription *Subscription) ID() uint64 {
	if subscription == nil {
		return 0
	}
	return subscription.id
}

func (subscription *Subscription) EventType() EventType {
	if subscription == nil {
		return ""
	}
	return subscription.eventType
}

// Cancel is idempotent and safe on a nil Subscription.
func (subscription *Subscription) Cancel() {
	if subscription == nil {
		return
	}
	subscription.once.Do(func() {
		if subscription.cancel != nil {
			subscription.cancel()
		}
	})
}

func (subscription *Subscription) Unsubscribe() {
	subscription.Cancel()
}
