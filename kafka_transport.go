package eventbus

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

type KafkaTransport struct {
	cfg Config
}

func NewKafkaTransport(cfg Config) *KafkaTransport {
	return &KafkaTransport{cfg: cfg}
}

func (transport *KafkaTransport) dialer() *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		KeepAlive: 15 * time.Second,
		ClientID:  transport.cfg.ClientID,
	}
	if transport.cfg.TLSEnabled {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if transport.cfg.Username != "" && transport.cfg.Password != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: transport.cfg.Username, Password: transport.cfg.Password}
	}
	return dialer
}

// Ping succeeds as soon as one seed broker accepts a connection.
func (transport *KafkaTransport) Ping(ctx context.Context) error {
	if len(transport.cfg.Brokers) == 0 {
		return ErrConfiguration
	}
	dialer := transport.dialer()
	var errs []error
	for _, broker := range transport.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	return errors.Join(errs...)
}

func (transport *KafkaTransport) NewWriter() (LogWriter, error) {
	return &kafkaWriter{w: transport.newWriter()}, nil
}

func (transport *KafkaTransport) newWriter() *kafka.Writer {
	kt := &kafka.Transport{
		DialTimeout: 20 * time.Second,
		IdleTimeout: 45 * time.Second,
		ClientID:    transport.cfg.ClientID,
	}
	if transport.cfg.TLSEnabled {
		kt.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if transport.cfg.Username != "" && transport.cfg.Password != "" {
		kt.SASL = plain.Mechanism{Username: transport.cfg.Username, Password: transport.cfg.Password}
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(transport.cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: transport.cfg.AllowAutoTopic,
		Async:                  false,
		WriteTimeout:           transport.cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		Transport:              kt,
	}
}

func (transport *KafkaTransport) NewReader(topic, groupID string) (LogReader, error) {
	return &kafkaReader{r: kafka.NewReader(transport.readerConfig(topic, groupID))}, nil
}

func (transport *KafkaTransport) readerConfig(topic, groupID string) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:          transport.cfg.Brokers,
		GroupID:          groupID,
		Topic:            topic,
		MinBytes:         1,
		MaxBytes:         10e6,
		MaxWait:          transport.cfg.ReadMaxWait,
		Dialer:           transport.dialer(),
		JoinGroupBackoff: 5 * time.Second,
		ReadBackoffMin:   250 * time.Millisecond,
		ReadBackoffMax:   10 * time.Second,
		StartOffset:      kafka.LastOffset,
	}
	if transport.cfg.StartFromEarliest {
		rc.StartOffset = kafka.FirstOffset
	}
	return rc
}

type kafkaWriter struct {
	w *kafka.Writer
}

func (writer *kafkaWriter) WriteMessages(ctx context.Context, records ...Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, record := range records {
		msgs = append(msgs, kafka.Message{Topic: record.Topic, Key: record.Key, Value: record.Value})
	}
	return writer.w.WriteMessages(ctx, msgs...)
}

func (writer *kafkaWriter) Close() error {
	return writer.w.Close()
}

type kafkaReader struct {
	r *kafka.Reader
}

func (reader *kafkaReader) FetchMessage(ctx context.Context) (Record, error) {
	m, err := reader.r.FetchMessage(ctx)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Partition: m.Partition,
		Offset:    m.Offset,
	}, nil
}

func (reader *kafkaReader) CommitMessages(ctx context.Context, records ...Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, record := range records {
		msgs = append(msgs, kafka.Message{Topic: record.Topic, Partition: record.Partition, Offset: record.Offset})
	}
	return reader.r.CommitMessages(ctx, msgs...)
}

func (reader *kafkaReader) Close() error {
	return reader.r.Close()
}

var _ Transport = (*KafkaTransport)(nil)
