package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/ticker-monitor/internal/config"
	"github.com/cuongbtq/ticker-monitor/internal/consumer"
	"github.com/cuongbtq/ticker-monitor/internal/domain"
	"github.com/cuongbtq/ticker-monitor/internal/fetch"
	"github.com/cuongbtq/ticker-monitor/internal/marketdata"
	"github.com/cuongbtq/ticker-monitor/internal/persistence"
	"github.com/cuongbtq/ticker-monitor/internal/ratelimit"
	"github.com/cuongbtq/ticker-monitor/shared/logger"
	"github.com/cuongbtq/ticker-monitor/shared/postgresql"
	"github.com/cuongbtq/ticker-monitor/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("CONSUMER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/consumer-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateConsumerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting consumer service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established",
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
		slog.String("dlq", rabbitClient.DLQName()),
	)

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return fmt.Errorf("failed to resolve timezone: %w", err)
	}

	// Wire up the processing pipeline
	rateLimitService := ratelimit.NewService(ratelimit.NewSQLStore(dbClient.GetDB()), appLogger.Logger)
	persistenceService := persistence.NewService(dbClient.GetDB(), appLogger.Logger)

	marketClient := marketdata.NewClient(&marketdata.Config{
		BaseURL:         cfg.MarketData.BaseURL,
		RequestTimeout:  cfg.MarketData.RequestTimeout.Std(),
		DefaultCurrency: cfg.MarketData.DefaultCurrency,
	}, appLogger.Logger)

	fetchEngine := fetch.NewEngine(&fetch.Config{
		BatchSize:    cfg.Scheduler.BatchSize,
		RequestDelay: cfg.Scheduler.RequestDelay.Std(),
		BackoffBase:  cfg.Scheduler.BackoffBase,
		MaxAttempts:  cfg.Scheduler.FetchMaxAttempts,
	}, marketClient, rateLimitService, appLogger.Logger)

	consumerInstance := consumer.New(&consumer.Config{
		Logger:      appLogger.Logger,
		Fetcher:     fetchEngine,
		Store:       persistenceService,
		Publisher:   rabbitClient,
		Tracker:     rateLimitService,
		Location:    loc,
		BackoffBase: cfg.Scheduler.BackoffBase,
		MaxRetries:  cfg.Scheduler.MaxRetries,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the first job of the daily chain when requested
	if cfg.Scheduler.SeedInitialJob {
		if err := seedInitialJob(ctx, cfg, rabbitClient, loc, appLogger.Logger); err != nil {
			return fmt.Errorf("failed to seed initial job: %w", err)
		}
	}

	if err := rabbitClient.Qos(cfg.RabbitMQ.Consumer.PrefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := rabbitClient.Consume(cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	// Start consumer loop in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- consumerInstance.Run(ctx, consumer.BridgeDeliveries(ctx, deliveries))
	}()

	appLogger.Info("Consumer service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Consumer error",
				slog.Any("error", err),
			)
			return err
		}
		return nil
	}

	// Cancel context to stop the consumer loop
	cancel()

	shutdownTimeout := cfg.Scheduler.ShutdownTimeout.Std()
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	select {
	case <-errChan:
		appLogger.Info("Consumer stopped gracefully")
	case <-time.After(shutdownTimeout):
		appLogger.Warn("Consumer shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Consumer service shutdown complete")
	return nil
}

// seedInitialJob publishes the first job of the daily chain, scheduled at
// today's configured execution time. Every later job is enqueued by its
// predecessor.
func seedInitialJob(ctx context.Context, cfg *config.Config, rabbitClient *rabbitmq.Client, loc *time.Location, logger *slog.Logger) error {
	executionTime, err := todayAt(cfg.Scheduler.ExecutionTime, loc)
	if err != nil {
		return err
	}

	job := domain.NewJobMessage(cfg.Scheduler.TickerList(), executionTime)
	body, err := job.Encode()
	if err != nil {
		return err
	}

	if err := rabbitClient.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return err
	}

	logger.Info("Seeded initial job",
		slog.String("job_id", job.JobID),
		slog.Time("execution_time", executionTime),
		slog.Int("tickers", len(job.TickerList)),
	)
	return nil
}

// todayAt resolves an HH:MM clock string to today's date in loc.
func todayAt(clock string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid execution_time %q: %w", clock, err)
	}

	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
		ConnMaxIdleTime: cfg.ConnMaxIdleTime.Std(),
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		MessageTTL:         cfg.Queue.MessageTTL.Std(),
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval.Std(),
		Heartbeat:          cfg.Connection.Heartbeat.Std(),
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout.Std(),
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval.Std(),
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
