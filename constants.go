package eventbus

import (
	"math"
	"time"
)

// common
const (
	DefaultMaxPublishLoops    = math.MaxUint16
	MinHandleTimeout          = 10 * time.Millisecond
	DefaultLocalHandleTimeout = 5 * time.Second
	DefaultHandleTimeout      = 10 * time.Minute
)

// broker
const (
	DefaultClientID          = "event-bus-client"
	DefaultGroupID           = "event-bus-group"
	DefaultWriteTimeout      = 5 * time.Second
	DefaultReadMaxWait       = 250 * time.Millisecond
	DefaultPublishBackoff    = 100 * time.Millisecond
	DefaultPublishMaxRetries = 3
	MinRetryInterval         = 10 * time.Millisecond
	DefaultRetryInterval     = time.Second
	MaxRetryDelay            = 5 * time.Minute
	MinFetchBackoff          = 200 * time.Millisecond
	MaxFetchBackoff          = 5 * time.Second
	MaxPublishBackoff        = 5 * time.Second
	DisconnectTimeout        = 30 * time.Second
)

// wire
const (
	WireKeyField   = "key"
	WireValueField = "value"
)

type Driver string

const (
	DriverLocal Driver = "local"
	DriverKafka Driver = "kafka"
	DriverRedis Driver = "redis"
)
