package eventbus

import (
	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

type envelope struct {
	Type    EventType   `json:"eventType"`
	Payload interface{} `json:"payload"`
}

// EncodeEvent renders the wire form: {"eventType": ..., "payload": ...}.
func EncodeEvent(event Event) ([]byte, error) {
	if event == nil {
		return nil, ErrEventNil
	}
	env := envelope{Type: event.EventType(), Payload: event}
	if p, ok := event.(Payloader); ok {
		env.Payload = p.Payload()
	}
	return codec.Marshal(env)
}

// DecodeEvent parses a wire message. The payload stays raw until the
// handler asks for it through RemoteEvent.Decode.
func DecodeEvent(data []byte) (RemoteEvent, error) {
	event := RemoteEvent{}
	if len(data) == 0 {
		return event, ErrEventDataNil
	}
	if err := codec.Unmarshal(data, &event); err != nil {
		return event, err
	}
	if event.Type == "" {
		return event, ErrEventTypeEmpty
	}
	return event, nil
}
