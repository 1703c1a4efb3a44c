package eventbus

import (
	"context"
	"sync"
)

// EventManager is the application's single entry point to a bus.
// It never disconnects the bus it wraps.
type EventManager struct {
	bus EventBus
}

// NewEventManager wraps bus, or a fresh LocalEventBus when bus is nil.
func NewEventManager(bus EventBus) *EventManager {
	if bus == nil {
		bus = NewLocalEventBus()
	}
	return &EventManager{bus: bus}
}

func (manager *EventManager) Subscribe(eventType EventType, handler Handler) (*Subscription, error) {
	return manager.bus.Subscribe(eventType, handler)
}

func (manager *EventManager) Emit(ctx context.Context, event Event) error {
	return manager.bus.Publish(ctx, event)
}

func (manager *EventManager) Bus() EventBus {
	return manager.bus
}

var (
	defaultMu      sync.RWMutex
	defaultManager *EventManager
)

// Init installs the process-wide manager and returns it. Calling it again
// replaces the previous one.
func Init(bus EventBus) *EventManager {
	manager := NewEventManager(bus)
	defaultMu.Lock()
	defaultManager = manager
	defaultMu.Unlock()
	return manager
}

func Default() (*EventManager, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultManager == nil {
		return nil, ErrManagerNotInitialized
	}
	return defaultManager, nil
}

func Subscribe(eventType EventType, handler Handler) (*Subscription, error) {
	manager, err := Default()
	if err != nil {
		return nil, err
	}
	return manager.Subscribe(eventType, handler)
}

func Emit(ctx context.Context, event Event) error {
	manager, err := Default()
	if err != nil {
		return err
	}
	return manager.Emit(ctx, event)
}
