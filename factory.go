package eventbus

// NewEventBus picks the backend from cfg: a LocalEventBus for DriverLocal or
// when no brokers are configured, otherwise a BrokerEventBus.
func NewEventBus(cfg Config, options ...EventBusOption) (EventBus, error) {
	if cfg.Driver == DriverLocal || (cfg.Driver == "" && len(cfg.Brokers) == 0) {
		if cfg.HandleTimeout > 0 {
			options = append([]EventBusOption{WithHandleTimeout(cfg.HandleTimeout)}, options...)
		}
		return NewLocalEventBus(options...), nil
	}
	return NewBrokerEventBus(cfg, options...)
}
