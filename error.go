package eventbus

import "errors"

var (
	ErrCtxNil                = errors.New("err ctx nil")
	ErrCtxNotFoundLoopTimes  = errors.New("err ctx not found loop times")
	ErrEventNil              = errors.New("err event nil")
	ErrEventDataNil          = errors.New("err event data nil")
	ErrEventLoopOverflow     = errors.New("event loop overflow")
	ErrEventTypeEmpty        = errors.New("err event type empty")
	ErrHandlerNil            = errors.New("err handler nil")
	ErrManagerNotInitialized = errors.New("err event manager not initialized")
	ErrTransportClosed       = errors.New("err transport closed")

	// ErrConfiguration is fatal to the bus being constructed.
	ErrConfiguration = errors.New("invalid event bus configuration")
	// ErrDependencyUnavailable means no broker client exists for the configured driver.
	ErrDependencyUnavailable = errors.New("event bus dependency unavailable")
	ErrHandlerFault          = errors.New("event handler fault")
	ErrDeliveryFault         = errors.New("event delivery fault")
	ErrDecodeFault           = errors.New("event decode fault")
)
