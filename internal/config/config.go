package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Broker    BrokerConfig
	Catalog   CatalogConfig
	Logging   LoggingConfig
	Generator GeneratorConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	RunMigrations bool   `mapstructure:"run_migrations"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type BrokerConfig struct {
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	URL          string `mapstructure:"url"`
	Exchange     string `mapstructure:"exchange"`
	CommandQueue string `mapstructure:"command_queue"`
	Prefetch     int    `mapstructure:"prefetch"`
}

type CatalogConfig struct {
	NATSURL        string        `mapstructure:"nats_url"`
	SearchSubject  string        `mapstructure:"search_subject"`
	AvgSubject     string        `mapstructure:"avg_subject"`
	PricingSubject string        `mapstructure:"pricing_subject"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type GeneratorConfig struct {
	MinUsefulLots        int           `mapstructure:"min_useful_lots"`
	ImageCallConcurrency int           `mapstructure:"image_call_concurrency"`
	ShortlistTimeout     time.Duration `mapstructure:"shortlist_timeout"`
	ImageBatchTimeout    time.Duration `mapstructure:"image_batch_timeout"`
	FinalizeTimeout      time.Duration `mapstructure:"finalize_timeout"`
	AssistantQueue       string        `mapstructure:"assistant_queue"`
	LotLinkBase          string        `mapstructure:"lot_link_base"`
}
