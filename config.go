package eventbus

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config selects and tunes a backend. Only Brokers is required for the
// broker drivers; everything else has a default.
type Config struct {
	Driver      Driver
	Brokers     []string
	ClientID    string
	GroupID     string
	TopicPrefix string

	Username   string
	Password   string
	TLSEnabled bool
	RedisDB    int

	AllowAutoTopic    bool
	StartFromEarliest bool
	WriteTimeout      time.Duration
	ReadMaxWait       time.Duration
	PublishMaxRetries int
	PublishBackoff    time.Duration
	HandleTimeout     time.Duration
	Retry             RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		ClientID:          DefaultClientID,
		GroupID:           DefaultGroupID,
		AllowAutoTopic:    true,
		WriteTimeout:      DefaultWriteTimeout,
		ReadMaxWait:       DefaultReadMaxWait,
		PublishMaxRetries: DefaultPublishMaxRetries,
		PublishBackoff:    DefaultPublishBackoff,
	}
}

// withDefaults fills the zero fields of cfg from DefaultConfig.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = DriverKafka
	}
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.GroupID == "" {
		cfg.GroupID = def.GroupID
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadMaxWait <= 0 {
		cfg.ReadMaxWait = def.ReadMaxWait
	}
	if cfg.PublishMaxRetries < 0 {
		cfg.PublishMaxRetries = 0
	}
	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = def.PublishBackoff
	}
	return cfg
}

func (cfg Config) Validate() error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("%w: brokers must not be empty", ErrConfiguration)
	}
	for i, broker := range cfg.Brokers {
		if strings.TrimSpace(broker) == "" {
			return fmt.Errorf("%w: broker %d is blank", ErrConfiguration, i)
		}
	}
	switch cfg.Driver {
	case "", DriverKafka, DriverRedis:
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrDependencyUnavailable, cfg.Driver)
	}
	return nil
}

// Topic derives the log topic for an event type: prefix + type, no separator.
func (cfg Config) Topic(eventType EventType) string {
	return cfg.TopicPrefix + eventType.String()
}

// LoadConfig reads the eventbus.* keys of v. Brokers may be a list or a
// comma separated string, which is what EVENTBUS_BROKERS produces.
func LoadConfig(v *viper.Viper) Config {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	cfg.Driver = Driver(strings.ToLower(v.GetString("eventbus.driver")))
	cfg.Brokers = splitList(v.Get("eventbus.brokers"))
	if s := v.GetString("eventbus.client_id"); s != "" {
		cfg.ClientID = s
	}
	if s := v.GetString("eventbus.group_id"); s != "" {
		cfg.GroupID = s
	}
	cfg.TopicPrefix = v.GetString("eventbus.topic_prefix")

	if u := v.GetString("eventbus.username"); u != "" {
		cfg.Username = u
		cfg.Password = v.GetString("eventbus.password")
	}
	cfg.TLSEnabled = v.GetBool("eventbus.tls")
	cfg.RedisDB = v.GetInt("eventbus.redis_db")

	if v.IsSet("eventbus.auto_topic") {
		cfg.AllowAutoTopic = v.GetBool("eventbus.auto_topic")
	}
	cfg.StartFromEarliest = v.GetBool("eventbus.start_earliest")
	if d := v.GetDuration("eventbus.write_timeout"); d > 0 {
		cfg.WriteTimeout = d
	}
	if d := v.GetDuration("eventbus.read_max_wait"); d > 0 {
		cfg.ReadMaxWait = d
	}
	if v.IsSet("eventbus.publish_retries") {
		cfg.PublishMaxRetries = v.GetInt("eventbus.publish_retries")
	}
	if d := v.GetDuration("eventbus.publish_backoff"); d > 0 {
		cfg.PublishBackoff = d
	}
	cfg.HandleTimeout = v.GetDuration("eventbus.handle_timeout")
	cfg.Retry = RetryPolicy{
		Interval: v.GetDuration("eventbus.retry.interval"),
		MaxDelay: v.GetDuration("eventbus.retry.max_delay"),
		TryTimes: v.GetInt("eventbus.retry.try_times"),
	}
	return cfg
}

func splitList(value interface{}) []string {
	var parts []string
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(v, ",")
	default:
		parts = cast.ToStringSlice(v)
	}
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			result = append(result, s)
		}
	}
	return result
}
