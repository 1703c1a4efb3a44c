package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	OrderID string `json:"orderId"`
}

func (orderPlaced) EventType() EventType {
	return "OrderPlaced"
}

func TestEncodeEvent(t *testing.T) {
	data, err := EncodeEvent(NewMessage("UserSignedUp", map[string]int{"id": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"UserSignedUp","payload":{"id":1}}`, string(data))

	// events without a Payload method are serialized whole
	data, err = EncodeEvent(orderPlaced{OrderID: "o-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"OrderPlaced","payload":{"orderId":"o-1"}}`, string(data))

	_, err = EncodeEvent(nil)
	assert.ErrorIs(t, err, ErrEventNil)
}

func TestDecodeEvent(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"eventType":"OrderPlaced","payload":{"orderId":"o-2"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventType("OrderPlaced"), event.EventType())

	var payload orderPlaced
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, "o-2", payload.OrderID)

	_, err = DecodeEvent(nil)
	assert.ErrorIs(t, err, ErrEventDataNil)
	_, err = DecodeEvent([]byte(`{"payload":1}`))
	assert.ErrorIs(t, err, ErrEventTypeEmpty)
	_, err = DecodeEvent([]byte(`{"eventType":`))
	assert.Error(t, err)

	event, err = DecodeEvent([]byte(`{"eventType":"Ping"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, event.Decode(&payload), ErrEventDataNil)
}
