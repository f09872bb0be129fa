package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bidautoweb/post-generator-service/internal/assistant"
	"github.com/bidautoweb/post-generator-service/internal/broker"
	"github.com/bidautoweb/post-generator-service/internal/catalog"
	"github.com/bidautoweb/post-generator-service/internal/config"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/dispatcher"
	"github.com/bidautoweb/post-generator-service/internal/generator"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/internal/posts"
	"github.com/bidautoweb/post-generator-service/internal/pricing"
	"github.com/bidautoweb/post-generator-service/internal/rpc"
	"github.com/bidautoweb/post-generator-service/pkg/health"
	"github.com/bidautoweb/post-generator-service/pkg/metrics"
	"github.com/bidautoweb/post-generator-service/pkg/retry"
)

type App struct {
	Config *config.Config
	Logger logger.Logger

	db            *sql.DB
	transport     *broker.AMQPTransport
	bridge        *rpc.Bridge
	catalogClient *catalog.Client
	pricingClient *pricing.Client
	store         posts.Gate
	service       *generator.Service
	dispatcher    *dispatcher.Dispatcher
	server        *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("post-generator-service")
	}
	return &App{
		Config: cfg,
		Logger: log,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initPostgreSQL(ctx); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if err := a.initBroker(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initClients(ctx); err != nil {
		return fmt.Errorf("failed to initialize clients: %w", err)
	}

	a.initService()

	metrics.RegisterRPCMetrics()
	metrics.RegisterPipelineMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	a.initHTTPServer()

	return nil
}

func (a *App) initPostgreSQL(ctx context.Context) error {
	pg := a.Config.Database.Postgres
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	err = retry.Retry(ctx, retry.DefaultPolicy(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := posts.RunMigrations(a.db, a.Config.Database.MigrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	a.store = posts.NewRepository(a.db)
	return nil
}

func (a *App) initBroker(ctx context.Context) error {
	transport := broker.NewAMQPTransport(a.Config.Broker.RabbitMQ, a.Logger)

	err := retry.Retry(ctx, retry.DefaultPolicy(), func() error {
		return transport.Connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	a.transport = transport
	a.bridge = rpc.NewBridge(transport, a.Logger, a.Config.Generator.ImageCallConcurrency)
	return nil
}

func (a *App) initClients(ctx context.Context) error {
	catalogClient, err := catalog.Connect(a.Config.Catalog, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect catalog client: %w", err)
	}
	a.catalogClient = catalogClient

	pricingClient, err := pricing.Connect(a.Config.Catalog, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect pricing client: %w", err)
	}
	a.pricingClient = pricingClient

	return nil
}

func (a *App) initService() {
	assistantClient := assistant.NewClient(a.bridge, a.Config.Generator.AssistantQueue, a.Logger)

	a.service = generator.NewService(
		a.catalogClient,
		a.pricingClient,
		assistantClient,
		a.store,
		a.bridge,
		a.Config.Generator,
		a.Logger,
	)

	a.dispatcher = dispatcher.New(
		a.transport,
		a.service,
		a.store,
		a.Config.Broker.RabbitMQ.CommandQueue,
		a.Logger,
	)
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewBrokerChecker("rabbitmq", a.transport.Connected))
	healthRegistry.Register(health.NewBrokerChecker("catalog", a.catalogClient.Connected))
	healthRegistry.Register(health.NewBrokerChecker("pricing", a.pricingClient.Connected))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Reply consumer starting", "queue", a.transport.ReplyQueue())
		return a.bridge.Run(gCtx)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Command consumer starting",
			"queue", a.Config.Broker.RabbitMQ.CommandQueue,
		)
		return a.dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down post generator service")

	var firstErr error

	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.transport != nil {
		if err := a.transport.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("broker close error: %w", err)
		}
	}
	if a.catalogClient != nil {
		a.catalogClient.Close()
	}
	if a.pricingClient != nil {
		a.pricingClient.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("postgres close error: %w", err)
		}
	}

	return firstErr
}
