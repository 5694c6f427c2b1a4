package config

import (
	"fmt"

	"go.yaml.in/yaml/v3"
)

const redacted = "********"

// YAML renders the effective configuration in the same key layout Load
// reads, with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	doc := map[string]any{
		"server":  map[string]any{"port": c.Server.Port},
		"storage": map[string]any{"driver": c.Storage.Driver},
		"db": map[string]any{
			"host":              c.Database.Host,
			"port":              c.Database.Port,
			"user":              c.Database.User,
			"password":          mask(c.Database.Password),
			"name":              c.Database.Name,
			"max_open_conns":    c.Database.MaxOpenConns,
			"max_idle_conns":    c.Database.MaxIdleConns,
			"conn_max_lifetime": c.Database.ConnMaxLifetime.String(),
		},
		"log": map[string]any{"level": c.Log.Level},
		"reservation": map[string]any{
			"hold_duration":      c.Reservation.HoldDuration.String(),
			"tx_timeout":         c.Reservation.TxTimeout.String(),
			"max_retry_attempts": c.Reservation.MaxRetryAttempts,
		},
		"outbox": map[string]any{
			"publish_interval": c.Outbox.PublishInterval.String(),
			"batch_size":       c.Outbox.BatchSize,
			"run_timeout":      c.Outbox.RunTimeout.String(),
			"routes":           c.Outbox.Routes,
		},
		"sweeper": map[string]any{
			"interval":     c.Sweeper.Interval.String(),
			"batch_size":   c.Sweeper.BatchSize,
			"run_timeout":  c.Sweeper.RunTimeout.String(),
			"mark_expired": c.Sweeper.MarkExpired,
		},
		"broker": map[string]any{
			"driver": c.Broker.Driver,
			"kafka": map[string]any{
				"brokers":       c.Broker.Kafka.Brokers,
				"write_timeout": c.Broker.Kafka.WriteTimeout.String(),
			},
			"servicebus": map[string]any{
				"connection_string": mask(c.Broker.ServiceBus.ConnectionString),
			},
		},
		"redis": map[string]any{
			"addr":     c.Redis.Addr,
			"password": mask(c.Redis.Password),
			"db":       c.Redis.DB,
			"lock_ttl": c.Redis.LockTTL.String(),
		},
		"tracing": map[string]any{
			"jaeger_endpoint": c.Tracing.JaegerEndpoint,
			"service_name":    c.Tracing.ServiceName,
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}
