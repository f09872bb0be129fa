package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/bidautoweb/post-generator-service/internal/constants"
)

func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("broker.rabbitmq.url", "BROKER_RABBITMQ_URL")
	viper.BindEnv("broker.rabbitmq.exchange", "BROKER_RABBITMQ_EXCHANGE")
	viper.BindEnv("broker.rabbitmq.command_queue", "BROKER_RABBITMQ_COMMAND_QUEUE")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("catalog.nats_url", "CATALOG_NATS_URL")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("logging.level", "LOGGING_LEVEL")
}

func setDefaults() {
	viper.SetDefault("broker.rabbitmq.exchange", constants.DefaultExchangeName)
	viper.SetDefault("broker.rabbitmq.command_queue", constants.DefaultCommandQueue)
	viper.SetDefault("broker.rabbitmq.prefetch", 10)

	viper.SetDefault("catalog.search_subject", "auction.lots.search")
	viper.SetDefault("catalog.avg_subject", "auction.lots.average_price")
	viper.SetDefault("catalog.pricing_subject", "pricing.calculator")
	viper.SetDefault("catalog.request_timeout", constants.DefaultCatalogTimeout)

	viper.SetDefault("generator.min_useful_lots", constants.MinUsefulLots)
	viper.SetDefault("generator.image_call_concurrency", constants.ImageCallConcurrency)
	viper.SetDefault("generator.shortlist_timeout", constants.ShortlistTimeout)
	viper.SetDefault("generator.image_batch_timeout", constants.ImageBatchTimeout)
	viper.SetDefault("generator.finalize_timeout", constants.FinalizeTimeout)
	viper.SetDefault("generator.assistant_queue", constants.AssistantQueue)
	viper.SetDefault("generator.lot_link_base", "https://bidauto.online/lot")

	viper.SetDefault("database.migrations_dir", "migrations")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("server.port", 8080)
}
