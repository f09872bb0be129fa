package config

import (
	"fmt"
)

func Validate(cfg *Config) error {
	if cfg.Broker.RabbitMQ.URL == "" {
		return fmt.Errorf("broker.rabbitmq.url is required")
	}
	if cfg.Broker.RabbitMQ.Exchange == "" {
		return fmt.Errorf("broker.rabbitmq.exchange is required")
	}
	if cfg.Broker.RabbitMQ.CommandQueue == "" {
		return fmt.Errorf("broker.rabbitmq.command_queue is required")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.DBName == "" {
		return fmt.Errorf("database.postgres.dbname is required")
	}

	if cfg.Catalog.NATSURL == "" {
		return fmt.Errorf("catalog.nats_url is required")
	}

	if cfg.Generator.MinUsefulLots <= 0 {
		return fmt.Errorf("generator.min_useful_lots must be positive, got %d", cfg.Generator.MinUsefulLots)
	}
	if cfg.Generator.ImageCallConcurrency <= 0 {
		return fmt.Errorf("generator.image_call_concurrency must be positive, got %d", cfg.Generator.ImageCallConcurrency)
	}

	return nil
}
