package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// LocalEventBus dispatches in process. Publish never waits for handlers:
// a background dispatcher starts them in registration order, each in its own
// goroutine, and gives each one handleTimeout to finish before moving on.
type LocalEventBus struct {
	NopConnector

	mu              sync.RWMutex
	subscribers     map[EventType][]handlerEntry
	nextID          atomic.Uint64
	inflight        inflight
	sem             *semaphore.Weighted
	errorHandler    ErrorHandler
	logger          *logrus.Entry
	handleTimeout   time.Duration
	maxPublishLoops int32
}

func (eventBus *LocalEventBus) Subscribe(eventType EventType, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerNil
	}
	if len(eventType) == 0 {
		return nil, ErrEventTypeEmpty
	}
	id := eventBus.nextID.Add(1)

	eventBus.mu.Lock()
	defer eventBus.mu.Unlock()
	if eventBus.subscribers == nil {
		eventBus.subscribers = make(map[EventType][]handlerEntry)
	}
	eventBus.subscribers[eventType] = append(eventBus.subscribers[eventType], handlerEntry{id: id, handler: handler})

	eventBus.logger.WithFields(logrus.Fields{
		"event_type":      eventType,
		"subscription_id": id,
	}).Debug("subscribed")

	return newSubscription(id, eventType, func() {
		eventBus.unsubscribe(eventType, id)
	}), nil
}

func (eventBus *LocalEventBus) unsubscribe(eventType EventType, id uint64) {
	eventBus.mu.Lock()
	defer eventBus.mu.Unlock()
	entries := removeHandlerEntry(eventBus.subscribers[eventType], id)
	if len(entries) == 0 {
		delete(eventBus.subscribers, eventType)
	} else {
		eventBus.subscribers[eventType] = entries
	}
	eventBus.logger.WithFields(logrus.Fields{
		"event_type":      eventType,
		"subscription_id": id,
	}).Debug("unsubscribed")
}

func (eventBus *LocalEventBus) getSubscribers(eventType EventType) []handlerEntry {
	eventBus.mu.RLock()
	defer eventBus.mu.RUnlock()
	entries, ok := eventBus.subscribers[eventType]
	if !ok {
		return nil
	}
	return copyHandlerEntries(entries)
}

func (eventBus *LocalEventBus) Publish(ctx context.Context, event Event) error {
	eventType, err := validateEvent(event)
	if err != nil {
		return err
	}
	ctx, err = countPublish(ctx, eventBus.maxPublishLoops)
	if err != nil {
		return err
	}
	entries := eventBus.getSubscribers(eventType)
	if len(entries) == 0 {
		return nil
	}
	// handlers outlive the publisher's deadline but keep its values
	ctx = context.WithoutCancel(ctx)

	eventBus.inflight.add()
	go func() {
		defer eventBus.inflight.done()
		for _, entry := range entries {
			eventBus.dispatch(ctx, eventType, entry, event)
		}
	}()
	return nil
}

func (eventBus *LocalEventBus) dispatch(ctx context.Context, eventType EventType, entry handlerEntry, event Event) {
	// the permit goes back when the handler returns or when the dispatcher
	// gives up on it, whichever comes first
	release := func() {}
	if eventBus.sem != nil {
		if err := eventBus.sem.Acquire(ctx, 1); err != nil {
			eventBus.report(Fault{Kind: ErrHandlerFault, EventType: eventType, SubscriptionID: entry.id, Err: err})
			return
		}
		var once sync.Once
		release = func() { once.Do(func() { eventBus.sem.Release(1) }) }
	}

	done := make(chan struct{})
	eventBus.inflight.add()
	go func() {
		defer eventBus.inflight.done()
		defer close(done)
		defer release()
		handleCtx, cancel := context.WithTimeout(ctx, eventBus.handleTimeout)
		defer cancel()
		panicValue, err := safeHandle(handleCtx, entry.handler, event)
		if err != nil {
			eventBus.report(Fault{
				Kind:           ErrHandlerFault,
				EventType:      eventType,
				SubscriptionID: entry.id,
				Panic:          panicValue,
				Err:            err,
			})
		}
	}()

	timer := time.NewTimer(eventBus.handleTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		release()
		eventBus.report(Fault{
			Kind:           ErrHandlerFault,
			EventType:      eventType,
			SubscriptionID: entry.id,
			Err:            context.DeadlineExceeded,
		})
	}
}

func (eventBus *LocalEventBus) report(fault Fault) {
	eventBus.logger.WithFields(fault.fields()).WithError(fault).Error("local handler failed")
	eventBus.errorHandler(fault)
}

// Drain blocks until every dispatch started so far has finished, or ctx ends.
// Handlers that outlived their timeout still count as in flight.
func (eventBus *LocalEventBus) Drain(ctx context.Context) error {
	select {
	case <-eventBus.inflight.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (eventBus *LocalEventBus) Topics() []TopicInfo {
	eventBus.mu.RLock()
	result := make([]TopicInfo, 0, len(eventBus.subscribers))
	for eventType, entries := range eventBus.subscribers {
		result = append(result, TopicInfo{
			EventType:   eventType,
			Topic:       eventType.String(),
			Subscribers: len(entries),
			Consuming:   true,
		})
	}
	eventBus.mu.RUnlock()
	SortTopicInfos(result)
	return result
}

// inflight counts running dispatchers and handlers. Unlike sync.WaitGroup it
// allows add while someone waits for zero.
type inflight struct {
	mu      sync.Mutex
	n       int
	waiters []chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n > 0 {
		return
	}
	for _, w := range f.waiters {
		close(w)
	}
	f.waiters = nil
}

// idle returns a channel closed once the count reaches zero.
func (f *inflight) idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	if f.n == 0 {
		close(ch)
		return ch
	}
	f.waiters = append(f.waiters, ch)
	return ch
}

func NewLocalEventBus(options ...EventBusOption) *LocalEventBus {
	optional := BuildEventBusOptional(options...)
	eventBus := &LocalEventBus{
		subscribers:     make(map[EventType][]handlerEntry),
		errorHandler:    optional.errorHandler,
		logger:          optional.logger,
		handleTimeout:   optional.handleTimeout,
		maxPublishLoops: optional.maxPublishLoops,
	}
	if eventBus.logger == nil {
		eventBus.logger = newLogger("local")
	}
	if eventBus.handleTimeout == 0 {
		eventBus.handleTimeout = DefaultLocalHandleTimeout
	}
	if eventBus.handleTimeout < MinHandleTimeout {
		eventBus.handleTimeout = MinHandleTimeout
	}
	if optional.maxConcurrency > 0 {
		eventBus.sem = semaphore.NewWeighted(optional.maxConcurrency)
	}
	var _ EventBus = eventBus
	return eventBus
}
