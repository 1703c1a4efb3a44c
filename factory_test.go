package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus(Config{})
	require.NoError(t, err)
	assert.IsType(t, &LocalEventBus{}, bus)

	bus, err = NewEventBus(Config{Driver: DriverLocal, Brokers: []string{"ignored:9092"}})
	require.NoError(t, err)
	assert.IsType(t, &LocalEventBus{}, bus)

	bus, err = NewEventBus(Config{Brokers: []string{"localhost:9092"}}, WithTransport(newFakeTransport()))
	require.NoError(t, err)
	assert.IsType(t, &BrokerEventBus{}, bus)

	bus, err = NewEventBus(Config{Driver: DriverRedis, Brokers: []string{"localhost:6379"}})
	require.NoError(t, err)
	broker := bus.(*BrokerEventBus)
	assert.IsType(t, &RedisTransport{}, broker.transport)

	_, err = NewEventBus(Config{Driver: DriverKafka})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewEventBus_LocalHandleTimeout(t *testing.T) {
	bus, err := NewEventBus(Config{HandleTimeout: 42 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 42*time.Millisecond, bus.(*LocalEventBus).handleTimeout)
}
