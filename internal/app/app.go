// Package app composes the linking service from configuration and manages
// the lifecycle of its dependencies
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/repositories"
	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/events"
	"github.com/Ramsey-B/sage/pkg/graph"
	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/linking"
	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/operations"
	"github.com/Ramsey-B/sage/pkg/pipeline"
	"github.com/Ramsey-B/sage/pkg/processor"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/routes"
	"github.com/Ramsey-B/sage/pkg/routes/health"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/startup"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/store/memory"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Dependency names, in the order they come up
const (
	DepTracing  = "tracing"
	DepStore    = "store"
	DepRedis    = "redis"
	DepGraph    = "graph"
	DepProducer = "kafka-producer"
	DepRules    = "rules"
	DepCore     = "core"
	DepConsumer = "kafka-consumer"
	DepHTTP     = "http"
)

const deadLetterStream = "sage:dead-letters"

// App owns every long-lived component. Fields are populated as their
// dependency starts.
type App struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	health  *health.Checker
	holder  *rules.Holder

	Stores     store.Stores
	Core       *processor.Components
	Pipeline   *pipeline.Pipeline
	Operations *operations.Operations

	db        database.DB
	redis     *redis.Client
	graph     *graph.Client
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	observers []linking.Observer

	server   *http.Server
	listener net.Listener
	shutdown func(context.Context) error
}

// New registers the dependencies the configuration enables. Nothing
// connects until Start.
func New(cfg *config.Config, logger ectologger.Logger) *App {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:  health.NewChecker(cfg.Version),
		holder:  rules.NewHolder(matching.DefaultRegistry(), logger),
	}

	a.health.AddDetail("rules_version", func() any {
		if rs, err := a.holder.Current(); err == nil {
			return rs.Version
		}
		return nil
	})
	a.health.AddDetail("pipeline_enabled", func() any { return cfg.PipelineEnabled })

	a.startup.AddDependency(&startup.Func{Name: DepTracing, OnStart: a.startTracing, OnStop: a.stopTracing})
	a.startup.AddDependency(&startup.Func{Name: DepStore, OnStart: a.startStore, OnStop: a.stopStore})

	core := []string{DepStore, DepRules}
	if cfg.RedisEnabled {
		a.startup.AddDependency(&startup.Func{Name: DepRedis, OnStart: a.startRedis, OnStop: a.stopRedis})
		core = append(core, DepRedis)
	}
	if cfg.GraphEnabled {
		a.startup.AddDependency(&startup.Func{Name: DepGraph, OnStart: a.startGraph, OnStop: a.stopGraph})
		core = append(core, DepGraph)
	}
	if cfg.KafkaProducerEnabled {
		a.startup.AddDependency(&startup.Func{Name: DepProducer, OnStart: a.startProducer, OnStop: a.stopProducer})
		core = append(core, DepProducer)
	}

	a.startup.AddDependency(&startup.Func{Name: DepRules, OnStart: a.loadRules})
	a.startup.AddDependency(&startup.Func{Name: DepCore, Requires: core, OnStart: a.startCore, OnStop: a.stopCore})

	if cfg.KafkaConsumerEnabled && cfg.PipelineEnabled {
		a.startup.AddDependency(&startup.Func{Name: DepConsumer, Requires: []string{DepCore}, OnStart: a.startConsumer, OnStop: a.stopConsumer})
	}
	a.startup.AddDependency(&startup.Func{Name: DepHTTP, Requires: []string{DepCore}, OnStart: a.startHTTP, OnStop: a.stopHTTP})

	return a
}

// Start brings every dependency up and marks the service ready
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.health.SetReady(true)
	a.logger.WithContext(ctx).WithField("addr", a.Addr()).Info("Service started")
	return nil
}

// Stop takes the service out of rotation and stops dependencies in reverse
func (a *App) Stop(ctx context.Context) error {
	a.health.SetReady(false)
	return a.startup.Stop(ctx)
}

// Addr is the address the HTTP server listens on
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) startTracing(ctx context.Context) error {
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: a.cfg.AppName,
		Version:     a.cfg.Version,
		Endpoint:    a.cfg.TracingEndpoint,
		Protocol:    a.cfg.TracingProtocol,
		Insecure:    a.cfg.TracingInsecure,
		Headers:     a.cfg.TracingHeaders,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *App) stopTracing(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(ctx)
}

func (a *App) startStore(ctx context.Context) error {
	if a.cfg.Store == config.StoreMemory {
		a.logger.WithContext(ctx).Warn("Using the in-memory store; links are lost on restart")
		a.Stores = memory.New().Stores()
		return nil
	}

	dsn := a.cfg.DatabaseDSN()
	if a.cfg.DatabaseMigrateOnStart {
		if err := a.MigrationService().MigrateDSN(dsn); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	db, err := database.Open(ctx, database.Config{
		DSN:             dsn,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.Stores = repositories.NewStores(db, a.logger)
	a.health.AddCheck("database", db.PingContext)
	return nil
}

func (a *App) stopStore(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// MigrationService builds the schema migrator from configuration
func (a *App) MigrationService() *database.MigrationService {
	return database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
}

func (a *App) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.health.AddCheck("redis", client.Ping)
	return nil
}

func (a *App) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *App) startGraph(ctx context.Context) error {
	client, err := graph.NewClient(graph.Config{
		Host:     a.cfg.GraphDBHost,
		Port:     a.cfg.GraphDBPort,
		Username: a.cfg.GraphDBUser,
		Password: a.cfg.GraphDBPassword,
		Database: a.cfg.GraphDBName,
		PoolSize: a.cfg.GraphDBPoolSize,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("failed to reach graph database: %w", err)
	}
	client.EnsureIndexes(ctx)

	a.graph = client
	a.observers = append(a.observers, graph.NewProjection(client, a.logger))
	a.health.AddOptionalCheck("graph", client.VerifyConnectivity)
	return nil
}

func (a *App) stopGraph(ctx context.Context) error {
	if a.graph == nil {
		return nil
	}
	return a.graph.Close(ctx)
}

func (a *App) startProducer(context.Context) error {
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaOutputTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
	a.observers = append(a.observers, events.NewEmitter(a.producer, a.logger))
	return nil
}

func (a *App) stopProducer(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *App) loadRules(ctx context.Context) error {
	_, err := a.holder.LoadFile(ctx, a.cfg.RulesPath)
	return err
}

func (a *App) startCore(ctx context.Context) error {
	a.Core = processor.Wire(a.Stores, a.holder, a.logger, a.observers...)

	var (
		locker pipeline.Locker          = pipeline.NewKeyedMutex()
		dlq    pipeline.DeadLetterStore = pipeline.NewMemoryDeadLetters()
	)
	if a.redis != nil {
		locker = redis.NewLocker(a.redis, "sage:record", a.cfg.RedisLockTTL, a.cfg.RedisLockWait)
		dlq = redis.NewDeadLetterQueue(a.redis, deadLetterStream, a.logger)
	}

	a.Pipeline = pipeline.New(a.Core.Processor, locker, dlq, a.cfg.Pipeline(), a.logger)
	if err := a.Pipeline.Start(ctx); err != nil {
		return err
	}
	a.Operations = operations.New(a.Core, a.Stores.Records, a.cfg.RulesPath, a.logger).WithDeadLetters(dlq)
	return nil
}

func (a *App) stopCore(ctx context.Context) error {
	if a.Pipeline == nil {
		return nil
	}
	return a.Pipeline.Stop(ctx)
}

func (a *App) startConsumer(ctx context.Context) error {
	handler := kafka.NewRecordHandler(a.Stores.Records, a.Pipeline, a.logger)
	a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       a.cfg.KafkaBrokers,
		Topic:         a.cfg.KafkaInputTopic,
		ConsumerGroup: a.cfg.KafkaConsumerGroup,
	}, a.logger, handler)
	a.health.AddOptionalCheck("kafka", func(context.Context) error {
		if !a.consumer.Health() {
			return errors.New("consumer is stopped or failing to fetch")
		}
		return nil
	})
	return a.consumer.Start(context.WithoutCancel(ctx))
}

func (a *App) stopConsumer(context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Stop()
}

func (a *App) startHTTP(context.Context) error {
	deps := routes.Dependencies{
		Operations: a.Operations,
		Holder:     a.holder,
		Health:     a.health,
	}
	if a.graph != nil {
		deps.Graph = graph.NewQueryService(a.graph, a.logger)
	}
	e := routes.NewServer(a.cfg.AppName, deps, a.logger)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Port, err)
	}
	a.listener = listener
	a.server = a.newHTTPServer(e)

	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
	return nil
}

func (a *App) newHTTPServer(e *echo.Echo) *http.Server {
	return &http.Server{
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
}

func (a *App) stopHTTP(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
