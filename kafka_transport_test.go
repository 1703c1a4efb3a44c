package eventbus

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaTransport_Writer(t *testing.T) {
	cfg := Config{
		Brokers:        []string{"k1:9092", "k2:9092"},
		ClientID:       "orders",
		AllowAutoTopic: true,
		WriteTimeout:   3 * time.Second,
		Username:       "svc",
		Password:       "secret",
		TLSEnabled:     true,
	}
	writer := NewKafkaTransport(cfg).newWriter()
	assert.NotNil(t, writer.Addr)
	assert.True(t, writer.AllowAutoTopicCreation)
	assert.Equal(t, 3*time.Second, writer.WriteTimeout)
	assert.Equal(t, kafka.RequireAll, writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, writer.Balancer)
	assert.Empty(t, writer.Topic)

	kt, ok := writer.Transport.(*kafka.Transport)
	require.True(t, ok)
	assert.Equal(t, "orders", kt.ClientID)
	assert.NotNil(t, kt.TLS)
	assert.Equal(t, plain.Mechanism{Username: "svc", Password: "secret"}, kt.SASL)
}

func TestKafkaTransport_ReaderConfig(t *testing.T) {
	cfg := Config{Brokers: []string{"k1:9092"}, ClientID: "orders", ReadMaxWait: time.Second}
	transport := NewKafkaTransport(cfg)

	rc := transport.readerConfig("app.UserSignedUp", "mailer")
	assert.Equal(t, []string{"k1:9092"}, rc.Brokers)
	assert.Equal(t, "app.UserSignedUp", rc.Topic)
	assert.Equal(t, "mailer", rc.GroupID)
	assert.Equal(t, time.Second, rc.MaxWait)
	assert.Equal(t, kafka.LastOffset, rc.StartOffset)
	assert.Equal(t, "orders", rc.Dialer.ClientID)
	assert.Nil(t, rc.Dialer.TLS)
	assert.Nil(t, rc.Dialer.SASLMechanism)
	require.NoError(t, rc.Validate())

	cfg.StartFromEarliest = true
	rc = NewKafkaTransport(cfg).readerConfig("app.UserSignedUp", "mailer")
	assert.Equal(t, kafka.FirstOffset, rc.StartOffset)
}

func TestKafkaTransport_PingWithoutBrokers(t *testing.T) {
	assert.ErrorIs(t, NewKafkaTransport(Config{}).Ping(nil), ErrConfiguration) //nolint:staticcheck
}
