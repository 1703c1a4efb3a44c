package eventbus

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

type EventType string

func (eventType EventType) String() string {
	return string(eventType)
}

// Event is anything that can name its own routing key.
type Event interface {
	EventType() EventType
}

// Payloader lets an Event choose what goes into the "payload" field on the wire.
// Events that do not implement it are serialized whole.
type Payloader interface {
	Payload() interface{}
}

type Message struct {
	Type EventType   `json:"eventType"`
	Data interface{} `json:"payload"`
}

func NewMessage(eventType EventType, data interface{}) Message {
	return Message{Type: eventType, Data: data}
}

func (message Message) EventType() EventType {
	return message.Type
}

func (message Message) Payload() interface{} {
	return message.Data
}

// RemoteEvent is the Event handed to handlers by the broker bus.
type RemoteEvent struct {
	Type  EventType           `json:"eventType"`
	Data  jsoniter.RawMessage `json:"payload"`
	Topic string              `json:"-"`
	Key   string              `json:"-"`
	Time  time.Time           `json:"-"`
}

func (event RemoteEvent) EventType() EventType {
	return event.Type
}

func (event RemoteEvent) Payload() interface{} {
	return event.Data
}

// Decode unmarshals the payload into v.
func (event RemoteEvent) Decode(v interface{}) error {
	if len(event.Data) == 0 {
		return ErrEventDataNil
	}
	return codec.Unmarshal(event.Data, v)
}

type ErrorHandler func(fault Fault)

// Fault describes a failure that was contained by the bus instead of being
// returned to a caller.
type Fault struct {
	Kind           error
	EventType      EventType
	Topic          string
	SubscriptionID uint64
	Message        string
	ExecuteTimes   int
	Panic          interface{}
	Err            error
}

func (fault Fault) Error() string {
	parts := make([]string, 0, 4)
	if fault.Kind != nil {
		parts = append(parts, fault.Kind.Error())
	}
	if fault.EventType != "" {
		parts = append(parts, "event type "+fault.EventType.String())
	}
	if fault.Topic != "" {
		parts = append(parts, "topic "+fault.Topic)
	}
	if fault.Err != nil {
		parts = append(parts, fault.Err.Error())
	} else if fault.Panic != nil {
		parts = append(parts, fmt.Sprintf("panic: %v", fault.Panic))
	}
	return strings.Join(parts, ": ")
}

func (fault Fault) Unwrap() []error {
	errs := make([]error, 0, 2)
	if fault.Kind != nil {
		errs = append(errs, fault.Kind)
	}
	if fault.Err != nil {
		errs = append(errs, fault.Err)
	}
	return errs
}

func (fault Fault) fields() logrus.Fields {
	fields := logrus.Fields{}
	if fault.EventType != "" {
		fields["event_type"] = fault.EventType
	}
	if fault.Topic != "" {
		fields["topic"] = fault.Topic
	}
	if fault.SubscriptionID != 0 {
		fields["subscription_id"] = fault.SubscriptionID
	}
	if fault.ExecuteTimes != 0 {
		fields["execute_times"] = fault.ExecuteTimes
	}
	return fields
}

// RetryPolicy controls how often the broker bus re-runs a failing handler
// for the same message. TryTimes 0 disables retries.
type RetryPolicy struct {
	Interval time.Duration `json:"interval"`
	MaxDelay time.Duration `json:"max_delay"`
	TryTimes int           `json:"try_times"`
}

type EventBusOptional struct {
	errorHandler    ErrorHandler
	logger          *logrus.Entry
	handleTimeout   time.Duration
	maxConcurrency  int64
	maxPublishLoops int32
	retryPolicy     RetryPolicy
	transport       Transport
	keyFunc         KeyFunc
}

type EventBusOption func(optional *EventBusOptional)

// KeyFunc picks the partition key of an outgoing broker message.
type KeyFunc func(topic string, event Event) []byte

func WithHandleTimeout(timeout time.Duration) EventBusOption {
	return func(optional *EventBusOptional) {
		optional.handleTimeout = timeout
	}
}

func WithErrHandlerOption(errorHandler ErrorHandler) EventBusOption {
	if errorHandler == nil {
		panic("err handler is nil")
	}
	return func(optional *EventBusOptional) {
		optional.errorHandler = errorHandler
	}
}

func WithLogger(logger *logrus.Entry) EventBusOption {
	return func(optional *EventBusOptional) {
		optional.logger = logger
	}
}

// WithMaxConcurrency bounds the number of handler goroutines a local bus runs at once.
func WithMaxConcurrency(n int64) EventBusOption {
	return func(optional *EventBusOptional) {
		optional.maxConcurrency = n
	}
}

func WithMaxPublishLoops(n int32) EventBusOption {
	return func(optional *EventBusOptional) {
		optional.maxPublishLoops = n
	}
}

func WithRetryPolicy(policy RetryPolicy) EventBusOption {
	return func(optional *EventBusOptional) {
		if policy.TryTimes < 0 {
			policy.TryTimes = 0
		}
		optional.retryPolicy = policy
	}
}

// WithTransport replaces the driver-built transport of a broker bus.
func WithTransport(transport Transport) EventBusOption {
	return func(optional *EventBusOptional) {
		optional.transport = transport
	}
}

func WithKeyFunc(keyFunc KeyFunc) EventBusOption {
	return func(optional *EventBusOptional) {
		optional.keyFunc = keyFunc
	}
}

type TopicInfo struct {
	EventType   EventType
	Topic       string
	Subscribers int
	Consuming   bool
}
