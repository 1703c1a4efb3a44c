package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) Subscribe(eventType EventType, handler Handler) (*Subscription, error) {
	args := m.Called(eventType, handler)
	sub, _ := args.Get(0).(*Subscription)
	return sub, args.Error(1)
}

func (m *mockEventBus) Publish(ctx context.Context, event Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEventBus) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockEventBus) Disconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var _ EventBus = (*mockEventBus)(nil)

func resetDefault() {
	defaultMu.Lock()
	defaultManager = nil
	defaultMu.Unlock()
}

func TestEventManager_DefaultsToLocalBus(t *testing.T) {
	manager := NewEventManager(nil)
	_, ok := manager.Bus().(*LocalEventBus)
	assert.True(t, ok)
}

func TestEventManager_Forwards(t *testing.T) {
	bus := &mockEventBus{}
	manager := NewEventManager(bus)
	handler := HandlerFunc(func(ctx context.Context, event Event) error { return nil })
	sub := newSubscription(9, "UserSignedUp", nil)
	event := NewMessage("UserSignedUp", "payload")
	ctx := context.Background()

	bus.On("Subscribe", EventType("UserSignedUp"), mock.Anything).Return(sub, nil).Once()
	bus.On("Publish", ctx, event).Return(nil).Once()

	got, err := manager.Subscribe("UserSignedUp", handler)
	require.NoError(t, err)
	assert.Same(t, sub, got)
	require.NoError(t, manager.Emit(ctx, event))
	assert.Same(t, bus, manager.Bus())

	bus.AssertExpectations(t)
	bus.AssertNotCalled(t, "Disconnect", mock.Anything)
}

func TestEventManager_PropagatesErrors(t *testing.T) {
	bus := &mockEventBus{}
	manager := NewEventManager(bus)
	bus.On("Publish", mock.Anything, mock.Anything).Return(ErrDeliveryFault)
	assert.ErrorIs(t, manager.Emit(context.Background(), NewMessage("x", nil)), ErrDeliveryFault)
}

func TestDefaultManager(t *testing.T) {
	resetDefault()
	t.Cleanup(resetDefault)

	_, err := Default()
	assert.ErrorIs(t, err, ErrManagerNotInitialized)
	_, err = Subscribe("UserSignedUp", HandlerFunc(func(ctx context.Context, event Event) error { return nil }))
	assert.ErrorIs(t, err, ErrManagerNotInitialized)
	assert.ErrorIs(t, Emit(context.Background(), NewMessage("UserSignedUp", nil)), ErrManagerNotInitialized)

	bus := newTestLocalBus()
	manager := Init(bus)
	got, err := Default()
	require.NoError(t, err)
	assert.Same(t, manager, got)

	received := make(chan Event, 1)
	_, err = Subscribe("UserSignedUp", HandlerFunc(func(ctx context.Context, event Event) error {
		received <- event
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, Emit(context.Background(), NewMessage("UserSignedUp", "hi")))
	drain(t, bus)
	assert.Equal(t, NewMessage("UserSignedUp", "hi"), <-received)
}
