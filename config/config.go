// Package config loads service configuration from the environment
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/sage/pkg/pipeline"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"sage" validate:"required"`
	Version                       string `env:"APP_VERSION" env-default:"dev"`
	Port                          int    `env:"PORT" env-default:"3003" validate:"min=1,max=65535"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	ReadHeaderTimeoutSeconds      int    `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int    `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5" validate:"min=1"`

	// Linking
	RulesPath string `env:"RULES_PATH" env-default:"rules.yaml" validate:"required"`
	Store     string `env:"STORE" env-default:"postgres" validate:"oneof=memory postgres"`

	// Ingestion pipeline
	PipelineEnabled           bool          `env:"MDM_ENABLED" env-default:"true"`
	ConcurrentConsumers       int           `env:"MDM_CONCURRENT_CONSUMERS" env-default:"5" validate:"min=1,max=256"`
	PipelineQueueSize         int           `env:"MDM_QUEUE_SIZE" env-default:"100" validate:"min=1"`
	PipelineRecordTimeout     time.Duration `env:"MDM_RECORD_TIMEOUT" env-default:"30s" validate:"gt=0"`
	PipelineMaxRetries        int           `env:"MDM_MAX_RETRIES" env-default:"3" validate:"min=0"`
	PipelineInitialBackoff    time.Duration `env:"MDM_INITIAL_BACKOFF" env-default:"100ms" validate:"gt=0"`
	PipelineMaxBackoff        time.Duration `env:"MDM_MAX_BACKOFF" env-default:"5s" validate:"gtefield=PipelineInitialBackoff"`
	PipelineBackoffMultiplier float64       `env:"MDM_BACKOFF_MULTIPLIER" env-default:"2" validate:"gte=1"`
	PipelineJitterFactor      float64       `env:"MDM_JITTER_FACTOR" env-default:"0.1" validate:"gte=0,lte=1"`
	PipelineMaxRequeues       int           `env:"MDM_MAX_REQUEUES" env-default:"3" validate:"min=0"`

	// PostgreSQL
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"sage"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10m"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	DatabaseMigrateOnStart        bool          `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Redis (distributed record lock and dead letter stream)
	RedisEnabled  bool          `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	RedisLockTTL  time.Duration `env:"REDIS_LOCK_TTL" env-default:"1m"`
	RedisLockWait time.Duration `env:"REDIS_LOCK_WAIT" env-default:"10s"`

	// Graph Database (Memgraph)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBName     string `env:"GRAPH_DB_NAME" env-default:""`
	GraphDBPoolSize int    `env:"GRAPH_DB_POOL_SIZE" env-default:"0" validate:"min=0"`

	// Kafka Consumer (incoming record changes)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"mdm-records"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"sage-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"false"`

	// Kafka Producer (link events)
	KafkaProducerEnabled bool   `env:"KAFKA_PRODUCER_ENABLED" env-default:"false"`
	KafkaOutputTopic     string `env:"KAFKA_OUTPUT_TOPIC" env-default:"mdm-link-events"`
	KafkaBatchSize       int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks    int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1" validate:"oneof=-1 0 1"`
	KafkaCompression     string `env:"KAFKA_COMPRESSION" env-default:"snappy" validate:"oneof=snappy gzip lz4 zstd none"`

	// Tracing
	TracingEndpoint string            `env:"TRACING_ENDPOINT" env-default:""`
	TracingProtocol string            `env:"TRACING_PROTOCOL" env-default:"grpc" validate:"oneof=grpc http"`
	TracingInsecure bool              `env:"TRACING_INSECURE" env-default:"true"`
	TracingHeaders  map[string]string `env:"TRACING_HEADERS"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads an optional .env file, then the environment, and validates the result
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// A missing .env file is normal outside local development
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DatabaseDSN builds the Postgres connection string
func (c *Config) DatabaseDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DatabaseUserName, c.DatabasePassword),
		Host:     c.DatabaseHost + ":" + c.DatabasePort,
		Path:     c.DatabaseName,
		RawQuery: url.Values{"sslmode": []string{c.DatabaseSSLMode}}.Encode(),
	}
	return u.String()
}

// Pipeline returns the ingestion pipeline settings
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Enabled:           c.PipelineEnabled,
		WorkerCount:       c.ConcurrentConsumers,
		QueueSize:         c.PipelineQueueSize,
		RecordTimeout:     c.PipelineRecordTimeout,
		MaxRetries:        c.PipelineMaxRetries,
		InitialBackoff:    c.PipelineInitialBackoff,
		MaxBackoff:        c.PipelineMaxBackoff,
		BackoffMultiplier: c.PipelineBackoffMultiplier,
		JitterFactor:      c.PipelineJitterFactor,
		MaxRequeues:       c.PipelineMaxRequeues,
	}
}
