package eventbus

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"
)

type ctxKey string

const ctxEventBusLoopTimes ctxKey = "ctx_event_bus_loop_times"

// WithEventBus attaches the publish counter shared by every Publish in one
// causal chain. Handlers receive a context carrying the same counter.
func WithEventBus(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(ctxEventBusLoopTimes).(*int32); ok {
		return ctx
	}
	return context.WithValue(ctx, ctxEventBusLoopTimes, new(int32))
}

func MustGetLoopTimes(ctx context.Context) (*int32, error) {
	if ctx == nil {
		return nil, ErrCtxNil
	}
	times, ok := ctx.Value(ctxEventBusLoopTimes).(*int32)
	if !ok {
		return nil, ErrCtxNotFoundLoopTimes
	}
	return times, nil
}

// countPublish returns the context to dispatch with, or ErrEventLoopOverflow
// once the chain has published more than max events.
func countPublish(ctx context.Context, max int32) (context.Context, error) {
	ctx = WithEventBus(ctx)
	times, err := MustGetLoopTimes(ctx)
	if err != nil {
		return ctx, err
	}
	if atomic.AddInt32(times, 1) > max {
		return ctx, ErrEventLoopOverflow
	}
	return ctx, nil
}

func validateEvent(event Event) (EventType, error) {
	if event == nil {
		return "", ErrEventNil
	}
	eventType := event.EventType()
	if len(eventType) == 0 {
		return "", ErrEventTypeEmpty
	}
	return eventType, nil
}

// safeHandle runs one handler, turning a panic into an error.
func safeHandle(ctx context.Context, handler Handler, event Event) (panicValue interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicValue = r
			err = fmt.Errorf("handler panic recovered: %v", r)
		}
	}()
	return nil, handler.Handle(ctx, event)
}

// GetNextTryDelay returns how long to wait before the next attempt, or false
// when the policy is exhausted. Delays double per attempt up to MaxDelay.
func GetNextTryDelay(executeTimes int, policy RetryPolicy) (time.Duration, bool) {
	if policy.TryTimes == 0 || executeTimes >= policy.TryTimes {
		return 0, false
	}
	add := policy.Interval
	if add < MinRetryInterval {
		add = DefaultRetryInterval
	}
	max := policy.MaxDelay
	if max <= 0 || max > MaxRetryDelay {
		max = MaxRetryDelay
	}
	for i := 0; i < executeTimes; i++ {
		add *= 2
		if add > max {
			return max, true
		}
	}
	if add > max {
		add = max
	}
	return add, true
}

// jitteredBackoff doubles backoff up to limit and returns the new backoff
// together with a delay drawn from [backoff/2, backoff).
func jitteredBackoff(backoff, limit time.Duration) (time.Duration, time.Duration) {
	backoff *= 2
	if backoff > limit {
		backoff = limit
	}
	half := backoff / 2
	if half <= 0 {
		return backoff, backoff
	}
	return backoff, half + time.Duration(rand.Int63n(int64(half)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func BuildEventBusOptional(options ...EventBusOption) EventBusOptional {
	optional := EventBusOptional{}
	for _, opt := range options {
		if opt != nil {
			opt(&optional)
		}
	}
	if optional.errorHandler == nil {
		optional.errorHandler = func(Fault) {}
	}
	if optional.maxPublishLoops <= 0 {
		optional.maxPublishLoops = DefaultMaxPublishLoops
	}
	return optional
}

func SortTopicInfos(infos []TopicInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Subscribers != infos[j].Subscribers {
			return infos[i].Subscribers > infos[j].Subscribers
		}
		return infos[i].EventType < infos[j].EventType
	})
}

type handlerEntry struct {
	id      uint64
	handler Handler
}

func copyHandlerEntries(entries []handlerEntry) []handlerEntry {
	result := make([]handlerEntry, 0, len(entries))
	result = append(result, entries...)
	return result
}

func removeHandlerEntry(entries []handlerEntry, id uint64) []handlerEntry {
	for i, entry := range entries {
		if entry.id == id {
			result := make([]handlerEntry, 0, len(entries)-1)
			result = append(result, entries[:i]...)
			return append(result, entries[i+1:]...)
		}
	}
	return entries
}
