package eventbus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"
)

// RedisTransport keeps each topic in a Redis stream and maps consumer groups
// onto XGROUP. Readers use ClientID as their consumer name, so a reopened
// reader first replays the entries it fetched but never acknowledged.
type RedisTransport struct {
	client   *redis.Client
	clientID string
	readWait time.Duration
	earliest bool
	batch    int64
}

func NewRedisTransport(client *redis.Client, cfg Config) *RedisTransport {
	transport := &RedisTransport{
		client:   client,
		clientID: cfg.ClientID,
		readWait: cfg.ReadMaxWait,
		earliest: cfg.StartFromEarliest,
		batch:    16,
	}
	if transport.readWait <= 0 {
		transport.readWait = DefaultReadMaxWait
	}
	return transport
}

// NewRedisTransportFromConfig connects to the first broker address.
func NewRedisTransportFromConfig(cfg Config) *RedisTransport {
	opts := &redis.Options{
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.RedisDB,
	}
	if len(cfg.Brokers) > 0 {
		opts.Addr = cfg.Brokers[0]
	}
	return NewRedisTransport(redis.NewClient(opts), cfg)
}

func (transport *RedisTransport) Ping(ctx context.Context) error {
	return transport.client.Ping(ctx).Err()
}

func (transport *RedisTransport) NewWriter() (LogWriter, error) {
	return &redisWriter{client: transport.client}, nil
}

func (transport *RedisTransport) NewReader(topic, groupID string) (LogReader, error) {
	start := "$"
	if transport.earliest {
		start = "0"
	}
	err := transport.client.XGroupCreateMkStream(context.Background(), topic, groupID, start).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, err
	}
	return &redisReader{
		client:   transport.client,
		stream:   topic,
		group:    groupID,
		consumer: transport.consumerName(),
		block:    transport.readWait,
		batch:    transport.batch,
		cursor:   "0",
	}, nil
}

func (transport *RedisTransport) consumerName() string {
	if transport.clientID == "" {
		return DefaultClientID
	}
	return transport.clientID
}

type redisWriter struct {
	client *redis.Client
}

func (writer *redisWriter) WriteMessages(ctx context.Context, records ...Record) error {
	pipeline := writer.client.Pipeline()
	for _, record := range records {
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: record.Topic,
			Values: map[string]interface{}{
				WireKeyField:   string(record.Key),
				WireValueField: string(record.Value),
			},
		})
	}
	_, err := pipeline.Exec(ctx)
	return err
}

// Close leaves the shared client open; other readers may still use it.
func (writer *redisWriter) Close() error {
	return nil
}

type redisReader struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	batch    int64
	// cursor walks the consumer's pending entries; empty once they are replayed
	// and reads switch to ">".
	cursor  string
	pending []redis.XMessage
	closed  bool
}

func (reader *redisReader) FetchMessage(ctx context.Context) (Record, error) {
	for len(reader.pending) == 0 {
		if reader.closed {
			return Record{}, ErrTransportClosed
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		messages, err := reader.read(ctx)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		reader.pending = append(reader.pending, messages...)
	}
	msg := reader.pending[0]
	reader.pending = reader.pending[1:]
	return Record{
		Topic: reader.stream,
		Key:   []byte(cast.ToString(msg.Values[WireKeyField])),
		Value: []byte(cast.ToString(msg.Values[WireValueField])),
		Time:  streamIDTime(msg.ID),
		ID:    msg.ID,
	}, nil
}

func (reader *redisReader) read(ctx context.Context) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    reader.group,
		Consumer: reader.consumer,
		Streams:  []string{reader.stream, ">"},
		Count:    reader.batch,
		Block:    reader.block,
	}
	if reader.cursor != "" {
		args.Streams[1] = reader.cursor
		args.Block = -1
	}
	streams, err := reader.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			reader.cursor = ""
		}
		return nil, err
	}
	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	if reader.cursor != "" {
		if len(messages) == 0 {
			reader.cursor = ""
		} else {
			reader.cursor = messages[len(messages)-1].ID
		}
	}
	return messages, nil
}

func (reader *redisReader) CommitMessages(ctx context.Context, records ...Record) error {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		if record.ID != "" {
			ids = append(ids, record.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return reader.client.XAck(ctx, reader.stream, reader.group, ids...).Err()
}

// Close drops the local buffer only; unacknowledged entries stay pending
// under the consumer name and the next reader replays them.
func (reader *redisReader) Close() error {
	reader.closed = true
	reader.pending = nil
	return nil
}

// streamIDTime reads the millisecond part of a stream entry id ("<ms>-<seq>").
func streamIDTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	ts := cast.ToInt64(ms)
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ts)
}

var _ Transport = (*RedisTransport)(nil)
