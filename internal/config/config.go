package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Database    DatabaseConfig
	Log         LogConfig
	Reservation ReservationConfig
	Outbox      OutboxConfig
	Sweeper     SweeperConfig
	Broker      BrokerConfig
	Redis       RedisConfig
	Tracing     TracingConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	// Driver is "mysql" or "memory".
	Driver string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type ReservationConfig struct {
	HoldDuration     time.Duration
	TxTimeout        time.Duration
	MaxRetryAttempts int
}

type OutboxConfig struct {
	PublishInterval time.Duration
	BatchSize       int
	// RunTimeout bounds one publish cycle. It stays below redis.lock_ttl so
	// the job lock outlives the run.
	RunTimeout time.Duration
	// Routes maps event types to broker destinations.
	Routes map[string]string
}

type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	RunTimeout  time.Duration
	MarkExpired bool
}

type BrokerConfig struct {
	// Driver is "kafka", "servicebus" or "log".
	Driver     string
	Kafka      KafkaConfig
	ServiceBus ServiceBusConfig
}

type KafkaConfig struct {
	Brokers      []string
	WriteTimeout time.Duration
}

type ServiceBusConfig struct {
	ConnectionString string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type TracingConfig struct {
	JaegerEndpoint string
	ServiceName    string
}

// Load reads configuration from the environment and, when path is not empty,
// from a YAML file. Environment variables win over the file; nested keys map
// to upper-case underscore names (outbox.batch_size -> OUTBOX_BATCH_SIZE).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "stockkeeper")
	v.SetDefault("db.password", "secret")
	v.SetDefault("db.name", "stockkeeper")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("reservation.hold_duration", "15m")
	v.SetDefault("reservation.tx_timeout", "5s")
	v.SetDefault("reservation.max_retry_attempts", 3)
	v.SetDefault("outbox.publish_interval", "5s")
	v.SetDefault("outbox.batch_size", 500)
	v.SetDefault("outbox.run_timeout", "25s")
	v.SetDefault("outbox.routes", map[string]string{"InventoryDeleted": "inventory-deleted"})
	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.batch_size", 500)
	v.SetDefault("sweeper.run_timeout", "25s")
	v.SetDefault("sweeper.mark_expired", false)
	v.SetDefault("broker.driver", "log")
	v.SetDefault("broker.kafka.brokers", "localhost:9092")
	v.SetDefault("broker.kafka.write_timeout", "10s")
	v.SetDefault("broker.servicebus.connection_string", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "30s")
	v.SetDefault("tracing.jaeger_endpoint", "")
	v.SetDefault("tracing.service_name", "stockkeeper")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var parseErr error
	duration := func(key string) time.Duration {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("parsing %s: %w", key, err)
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("server.port"),
		},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("db.host"),
			Port:            v.GetInt("db.port"),
			User:            v.GetString("db.user"),
			Password:        v.GetString("db.password"),
			Name:            v.GetString("db.name"),
			MaxOpenConns:    v.GetInt("db.max_open_conns"),
			MaxIdleConns:    v.GetInt("db.max_idle_conns"),
			ConnMaxLifetime: duration("db.conn_max_lifetime"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Reservation: ReservationConfig{
			HoldDuration:     duration("reservation.hold_duration"),
			TxTimeout:        duration("reservation.tx_timeout"),
			MaxRetryAttempts: v.GetInt("reservation.max_retry_attempts"),
		},
		Outbox: OutboxConfig{
			PublishInterval: duration("outbox.publish_interval"),
			BatchSize:       v.GetInt("outbox.batch_size"),
			RunTimeout:      duration("outbox.run_timeout"),
			Routes:          v.GetStringMapString("outbox.routes"),
		},
		Sweeper: SweeperConfig{
			Interval:    duration("sweeper.interval"),
			BatchSize:   v.GetInt("sweeper.batch_size"),
			RunTimeout:  duration("sweeper.run_timeout"),
			MarkExpired: v.GetBool("sweeper.mark_expired"),
		},
		Broker: BrokerConfig{
			Driver: v.GetString("broker.driver"),
			Kafka: KafkaConfig{
				Brokers:      splitList(v.GetString("broker.kafka.brokers")),
				WriteTimeout: duration("broker.kafka.write_timeout"),
			},
			ServiceBus: ServiceBusConfig{
				ConnectionString: v.GetString("broker.servicebus.connection_string"),
			},
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  duration("redis.lock_ttl"),
		},
		Tracing: TracingConfig{
			JaegerEndpoint: v.GetString("tracing.jaeger_endpoint"),
			ServiceName:    v.GetString("tracing.service_name"),
		},
	}

	if parseErr != nil {
		return nil, parseErr
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Broker.Driver {
	case "kafka", "servicebus", "log":
	default:
		return fmt.Errorf("unknown broker driver %q", c.Broker.Driver)
	}
	if c.Reservation.HoldDuration <= 0 {
		return fmt.Errorf("reservation.hold_duration must be positive")
	}
	if c.Outbox.PublishInterval <= 0 || c.Sweeper.Interval <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("outbox.batch_size must be at least 1, got %d", c.Outbox.BatchSize)
	}
	if c.Sweeper.BatchSize < 1 {
		return fmt.Errorf("sweeper.batch_size must be at least 1, got %d", c.Sweeper.BatchSize)
	}
	if c.Outbox.RunTimeout <= 0 || c.Sweeper.RunTimeout <= 0 {
		return fmt.Errorf("job run timeouts must be positive")
	}
	if c.Redis.LockTTL <= 0 {
		return fmt.Errorf("redis.lock_ttl must be positive")
	}
	if c.Redis.Addr != "" && (c.Outbox.RunTimeout >= c.Redis.LockTTL || c.Sweeper.RunTimeout >= c.Redis.LockTTL) {
		return fmt.Errorf("job run timeouts must be shorter than redis.lock_ttl (%s)", c.Redis.LockTTL)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
