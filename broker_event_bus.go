package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BrokerEventBus bridges the EventBus contract to a partitioned topic log
// with consumer groups. Delivery is at-least-once.
//
// Every event type maps to the topic TopicPrefix+eventType. All logical
// subscriptions of one topic share a single consumption loop: the loop starts
// with the first subscription and stops when the last one is cancelled.
type BrokerEventBus struct {
	cfg             Config
	transport       Transport
	errorHandler    ErrorHandler
	logger          *logrus.Entry
	handleTimeout   time.Duration
	retryPolicy     RetryPolicy
	keyFunc         KeyFunc
	maxPublishLoops int32
	nextID          atomic.Uint64

	// connMu serialises Connect and Disconnect; consumption loops never take it.
	connMu    sync.Mutex
	mu        sync.RWMutex
	connected bool
	writer    LogWriter
	topics    map[string]*topicConsumer
}

type topicConsumer struct {
	topic     string
	eventType EventType
	handlers  []handlerEntry
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewBrokerEventBus(cfg Config, options ...EventBusOption) (*BrokerEventBus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	optional := BuildEventBusOptional(options...)

	transport := optional.transport
	if transport == nil {
		t, err := NewTransport(cfg)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	eventBus := &BrokerEventBus{
		cfg:             cfg,
		transport:       transport,
		errorHandler:    optional.errorHandler,
		logger:          optional.logger,
		handleTimeout:   optional.handleTimeout,
		retryPolicy:     cfg.Retry,
		keyFunc:         optional.keyFunc,
		maxPublishLoops: optional.maxPublishLoops,
		topics:          make(map[string]*topicConsumer),
	}
	if optional.retryPolicy.TryTimes > 0 {
		eventBus.retryPolicy = optional.retryPolicy
	}
	if eventBus.logger == nil {
		eventBus.logger = newLogger(string(cfg.Driver))
	}
	if eventBus.handleTimeout == 0 {
		eventBus.handleTimeout = cfg.HandleTimeout
	}
	if eventBus.handleTimeout == 0 {
		eventBus.handleTimeout = DefaultHandleTimeout
	}
	if eventBus.handleTimeout < MinHandleTimeout {
		eventBus.handleTimeout = MinHandleTimeout
	}
	var _ EventBus = eventBus
	return eventBus, nil
}

func (eventBus *BrokerEventBus) Topic(eventType EventType) string {
	return eventBus.cfg.Topic(eventType)
}

func (eventBus *BrokerEventBus) Connected() bool {
	eventBus.mu.RLock()
	defer eventBus.mu.RUnlock()
	return eventBus.connected
}

// Connect opens the producer and resumes consumption for every topic that
// still has subscribers. It is a no-op when already connected.
func (eventBus *BrokerEventBus) Connect(ctx context.Context) error {
	eventBus.connMu.Lock()
	defer eventBus.connMu.Unlock()
	if eventBus.Connected() {
		return nil
	}
	if err := eventBus.transport.Ping(ctx); err != nil {
		return fmt.Errorf("%w: connect: %v", ErrDeliveryFault, err)
	}
	writer, err := eventBus.transport.NewWriter()
	if err != nil {
		return fmt.Errorf("%w: open producer: %v", ErrDeliveryFault, err)
	}

	eventBus.mu.Lock()
	eventBus.writer = writer
	eventBus.connected = true
	for _, tc := range eventBus.topics {
		if tc.cancel == nil {
			eventBus.startConsumerLocked(tc)
		}
	}
	eventBus.mu.Unlock()

	eventBus.logger.WithField("brokers", eventBus.cfg.Brokers).Debug("connected")
	return nil
}

// Disconnect stops every consumption loop, waits for them within ctx and
// closes the producer. Subscriptions survive; the next Connect, Publish or
// Subscribe resumes them.
func (eventBus *BrokerEventBus) Disconnect(ctx context.Context) error {
	eventBus.connMu.Lock()
	defer eventBus.connMu.Unlock()

	eventBus.mu.Lock()
	dones := make([]chan struct{}, 0, len(eventBus.topics))
	for _, tc := range eventBus.topics {
		if tc.cancel != nil {
			tc.cancel()
			tc.cancel = nil
			dones = append(dones, tc.done)
		}
	}
	writer := eventBus.writer
	wasConnected := eventBus.connected
	eventBus.writer = nil
	eventBus.connected = false
	eventBus.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, done := range dones {
		done := done
		g.Go(func() error {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	if writer != nil {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if wasConnected {
		eventBus.logger.Debug("disconnected")
	}
	return err
}

func (eventBus *BrokerEventBus) Publish(ctx context.Context, event Event) error {
	eventType, err := validateEvent(event)
	if err != nil {
		return err
	}
	ctx, err = countPublish(ctx, eventBus.maxPublishLoops)
	if err != nil {
		return err
	}
	if !eventBus.Connected() {
		if err = eventBus.Connect(ctx); err != nil {
			return err
		}
	}
	value, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", eventType, err)
	}

	topic := eventBus.Topic(eventType)
	key := []byte(uuid.New().String())
	if eventBus.keyFunc != nil {
		key = eventBus.keyFunc(topic, event)
	}

	eventBus.mu.RLock()
	writer := eventBus.writer
	eventBus.mu.RUnlock()
	if writer == nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFault, ErrTransportClosed)
	}

	record := Record{Topic: topic, Key: key, Value: value}
	backoff := eventBus.cfg.PublishBackoff
	for attempt := 0; ; attempt++ {
		err = writer.WriteMessages(ctx, record)
		if err == nil {
			eventBus.logger.WithFields(logrus.Fields{"topic": topic, "key": string(key)}).Trace("published")
			return nil
		}
		if attempt >= eventBus.cfg.PublishMaxRetries || ctx.Err() != nil {
			return fmt.Errorf("%w: publish to %s: %v", ErrDeliveryFault, topic, err)
		}
		var delay time.Duration
		backoff, delay = jitteredBackoff(backoff, MaxPublishBackoff)
		eventBus.logger.WithError(err).WithField("topic", topic).Debugf("publish retry %d in %s", attempt+1, delay)
		if serr := sleepContext(ctx, delay); serr != nil {
			return fmt.Errorf("%w: publish to %s: %v", ErrDeliveryFault, topic, err)
		}
	}
}

// Subscribe registers handler and returns at once; the consumer for the
// topic is wired in the background.
func (eventBus *BrokerEventBus) Subscribe(eventType EventType, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerNil
	}
	if len(eventType) == 0 {
		return nil, ErrEventTypeEmpty
	}
	id := eventBus.nextID.Add(1)
	topic := eventBus.Topic(eventType)

	eventBus.mu.Lock()
	tc, ok := eventBus.topics[topic]
	if !ok {
		tc = &topicConsumer{topic: topic, eventType: eventType}
		eventBus.topics[topic] = tc
	}
	tc.handlers = append(tc.handlers, handlerEntry{id: id, handler: handler})
	if tc.cancel == nil {
		eventBus.startConsumerLocked(tc)
	}
	eventBus.mu.Unlock()

	eventBus.logger.WithFields(logrus.Fields{
		"topic":           topic,
		"subscription_id": id,
	}).Debug("subscribed")

	return newSubscription(id, eventType, func() {
		eventBus.unsubscribe(topic, id)
	}), nil
}

func (eventBus *BrokerEventBus) unsubscribe(topic string, id uint64) {
	eventBus.mu.Lock()
	defer eventBus.mu.Unlock()
	tc, ok := eventBus.topics[topic]
	if !ok {
		return
	}
	tc.handlers = removeHandlerEntry(tc.handlers, id)
	if len(tc.handlers) > 0 {
		return
	}
	delete(eventBus.topics, topic)
	if tc.cancel != nil {
		tc.cancel()
		tc.cancel = nil
	}
	eventBus.logger.WithField("topic", topic).Debug("last subscription cancelled, consumer stopping")
}

func (eventBus *BrokerEventBus) startConsumerLocked(tc *topicConsumer) {
	ctx, cancel := context.WithCancel(context.Background())
	tc.cancel = cancel
	tc.done = make(chan struct{})
	go eventBus.consume(ctx, tc, tc.done)
}

func (eventBus *BrokerEventBus) consume(ctx context.Context, tc *topicConsumer, done chan struct{}) {
	defer close(done)
	logger := eventBus.logger.WithField("topic", tc.topic)
	defer func() {
		if r := recover(); r != nil {
			eventBus.report(Fault{
				Kind:  ErrDeliveryFault,
				Topic: tc.topic,
				Panic: r,
				Err:   fmt.Errorf("consumer panic recovered: %v", r),
			})
		}
		logger.Debug("consumer stopped")
	}()

	reader, err := eventBus.openReader(ctx, tc)
	if err != nil {
		return
	}
	defer reader.Close()
	logger.Debug("consumer started")

	backoff := MinFetchBackoff
	for {
		record, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			eventBus.report(Fault{Kind: ErrDeliveryFault, EventType: tc.eventType, Topic: tc.topic, Err: err})
			var delay time.Duration
			backoff, delay = jitteredBackoff(backoff, MaxFetchBackoff)
			if sleepContext(ctx, delay) != nil {
				return
			}
			continue
		}
		backoff = MinFetchBackoff

		eventBus.handleRecord(ctx, tc, record)

		if err := reader.CommitMessages(ctx, record); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("commit failed")
		}
	}
}

// openReader waits for the cluster to answer and joins the consumer group,
// retrying until ctx ends.
func (eventBus *BrokerEventBus) openReader(ctx context.Context, tc *topicConsumer) (LogReader, error) {
	backoff := MinFetchBackoff
	for {
		err := eventBus.transport.Ping(ctx)
		if err == nil {
			var reader LogReader
			reader, err = eventBus.transport.NewReader(tc.topic, eventBus.cfg.GroupID)
			if err == nil {
				return reader, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		eventBus.report(Fault{Kind: ErrDeliveryFault, EventType: tc.eventType, Topic: tc.topic, Err: err})
		var delay time.Duration
		backoff, delay = jitteredBackoff(backoff, MaxFetchBackoff)
		if serr := sleepContext(ctx, delay); serr != nil {
			return nil, serr
		}
	}
}

func (eventBus *BrokerEventBus) handleRecord(ctx context.Context, tc *topicConsumer, record Record) {
	event, err := DecodeEvent(record.Value)
	if err != nil {
		eventBus.report(Fault{
			Kind:    ErrDecodeFault,
			Topic:   tc.topic,
			Message: string(record.Value),
			Err:     err,
		})
		return
	}
	event.Topic = record.Topic
	event.Key = string(record.Key)
	event.Time = record.Time

	eventBus.mu.RLock()
	entries := copyHandlerEntries(tc.handlers)
	eventBus.mu.RUnlock()

	ctx = WithEventBus(ctx)
	for _, entry := range entries {
		eventBus.invoke(ctx, tc.topic, entry, event)
	}
}

func (eventBus *BrokerEventBus) invoke(ctx context.Context, topic string, entry handlerEntry, event RemoteEvent) {
	for attempt := 0; ; attempt++ {
		outcome, timedOut := eventBus.supervise(ctx, entry, event)
		panicValue, err := outcome.panicValue, outcome.err
		if err == nil {
			return
		}
		delay, retry := GetNextTryDelay(attempt, eventBus.retryPolicy)
		if retry && !timedOut && ctx.Err() == nil {
			eventBus.logger.WithError(err).WithFields(logrus.Fields{
				"topic":           topic,
				"subscription_id": entry.id,
			}).Debugf("handler retry %d in %s", attempt+1, delay)
			if sleepContext(ctx, delay) == nil {
				continue
			}
		}
		eventBus.report(Fault{
			Kind:           ErrHandlerFault,
			EventType:      event.Type,
			Topic:          topic,
			SubscriptionID: entry.id,
			ExecuteTimes:   attempt + 1,
			Panic:          panicValue,
			Err:            err,
		})
		return
	}
}

type handleResult struct {
	panicValue interface{}
	err        error
}

// supervise runs one handler call and waits at most handleTimeout for it. A
// handler that ignores its context is abandoned so the topic keeps flowing;
// abandoned calls are never retried.
func (eventBus *BrokerEventBus) supervise(ctx context.Context, entry handlerEntry, event RemoteEvent) (handleResult, bool) {
	handleCtx, cancel := context.WithTimeout(ctx, eventBus.handleTimeout)
	result := make(chan handleResult, 1)
	go func() {
		defer cancel()
		panicValue, err := safeHandle(handleCtx, entry.handler, event)
		result <- handleResult{panicValue: panicValue, err: err}
	}()

	timer := time.NewTimer(eventBus.handleTimeout)
	defer timer.Stop()
	select {
	case r := <-result:
		return r, false
	case <-timer.C:
		return handleResult{err: fmt.Errorf("handler still running after %s: %w", eventBus.handleTimeout, context.DeadlineExceeded)}, true
	case <-ctx.Done():
		return handleResult{err: ctx.Err()}, true
	}
}

func (eventBus *BrokerEventBus) report(fault Fault) {
	eventBus.logger.WithFields(fault.fields()).WithError(fault).Error("broker event bus fault")
	eventBus.errorHandler(fault)
}

func (eventBus *BrokerEventBus) Topics() []TopicInfo {
	eventBus.mu.RLock()
	result := make([]TopicInfo, 0, len(eventBus.topics))
	for topic, tc := range eventBus.topics {
		result = append(result, TopicInfo{
			EventType:   tc.eventType,
			Topic:       topic,
			Subscribers: len(tc.handlers),
			Consuming:   tc.cancel != nil,
		})
	}
	eventBus.mu.RUnlock()
	SortTopicInfos(result)
	return result
}
