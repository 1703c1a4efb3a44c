package eventbus

import (
	"context"
	"fmt"
	"time"
)

// Record is one message of a topic log, independent of the driver.
type Record struct {
	Topic     string
	Key       []byte
	Value     []byte
	Time      time.Time
	Partition int
	Offset    int64
	ID        string
}

type LogWriter interface {
	WriteMessages(ctx context.Context, records ...Record) error
	Close() error
}

type LogReader interface {
	FetchMessage(ctx context.Context) (Record, error)
	CommitMessages(ctx context.Context, records ...Record) error
	Close() error
}

// Transport is the boundary to the broker client. Connection pooling and
// partition assignment stay inside the driver.
type Transport interface {
	Ping(ctx context.Context) error
	NewWriter() (LogWriter, error)
	NewReader(topic, groupID string) (LogReader, error)
}

func NewTransport(cfg Config) (Transport, error) {
	switch cfg.Driver {
	case DriverKafka, "":
		return NewKafkaTransport(cfg), nil
	case DriverRedis:
		return NewRedisTransportFromConfig(cfg), nil
	default:
		return nil, fmt.Errorf("%w: no broker client for driver %q", ErrDependencyUnavailable, cfg.Driver)
	}
}
