package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
	"github.com/imrishuroy/restaurant-orderflow/internal/cart"
	"github.com/imrishuroy/restaurant-orderflow/internal/catalog"
	"github.com/imrishuroy/restaurant-orderflow/internal/config"
	"github.com/imrishuroy/restaurant-orderflow/internal/feed"
	"github.com/imrishuroy/restaurant-orderflow/internal/handlers"
	"github.com/imrishuroy/restaurant-orderflow/internal/idempotency"
	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
	"github.com/imrishuroy/restaurant-orderflow/internal/notification"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"github.com/imrishuroy/restaurant-orderflow/internal/submission"
	"github.com/imrishuroy/restaurant-orderflow/internal/telemetry"
	"github.com/imrishuroy/restaurant-orderflow/internal/validation"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterRoutes(r, cfg)
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Env: cfg.Env})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, "orderflow-api", cfg.Env)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer shutdownTracer(context.Background())
	}

	clients, err := aws.NewAWSClients(ctx, aws.Settings{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	orderStore := orders.NewStore(clients.DynamoDB, cfg.AWS.OrdersTable)

	var catalogReader catalog.Reader = catalog.NewStore(clients.DynamoDB, cfg.AWS.CatalogTable)
	if rdb != nil {
		catalogReader = catalog.NewCachedStore(catalogReader, rdb, cfg.Redis.CacheTTL, logger)
	}

	var carts cart.Storage = cart.NewMemoryStorage(cfg.Cart.MaxBytes)
	if rdb != nil {
		carts = cart.NewRedisStorage(rdb, cfg.Cart.TTL, cfg.Cart.MaxBytes)
	}

	messenger, closeMessenger, err := newMessenger(cfg, clients, logger)
	if err != nil {
		logger.Fatal("failed to init notification transport", zap.Error(err))
	}
	defer closeMessenger()

	source, notifier := newFeedSource(cfg, rdb, logger)

	svc := submission.NewService(submission.Deps{
		Orders:      orderStore,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.AWS.IdempotencyTable, cfg.Orders.IdempotencyTTL),
		Roles:       catalogReader,
		Dispatcher:  notification.NewDispatcher(messenger, cfg.Notify.Concurrency, logger),
		Notifier:    notifier,
		Metrics:     aws.NewMetrics(clients.CloudWatch, cfg.AWS.MetricsNamespace),
		TotalPolicy: validation.ParseTotalPolicy(cfg.Orders.TotalPolicy),
		Logger:      logger,
	})

	r := setupRouter(handlers.HandlerConfig{
		Submitter:     svc,
		Orders:        orderStore,
		Feed:          feed.New(orderStore, source, logger).WithSettleDelay(cfg.Feed.SettleDelay),
		Catalog:       catalogReader,
		Carts:         carts,
		Notifications: messenger,
		Logger:        logger,
	})

	// RUN_LOCAL serves plain HTTP for development; otherwise run behind API Gateway.
	if cfg.RunLocal {
		runLocal(r, cfg.HTTP, logger)
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// newMessenger picks the staff notification transport and guards it with a circuit breaker.
func newMessenger(cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) (*notification.BreakerMessenger, func(), error) {
	var (
		next    notification.Messenger
		closeFn = func() {}
	)
	switch cfg.Notify.Transport {
	case "amqp":
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		if err := notification.DeclareExchange(ch, cfg.AMQP.Exchange); err != nil {
			conn.Close()
			return nil, nil, err
		}
		next = notification.NewAMQPMessenger(ch, cfg.AMQP.Exchange)
		closeFn = func() {
			_ = ch.Close()
			_ = conn.Close()
		}
	default:
		next = notification.NewSQSMessenger(aws.NewPublisher(clients.SQS, cfg.AWS.NotifyQueueURL))
	}
	settings := notification.BreakerSettings("staff-notify-"+cfg.Notify.Transport, logger)
	return notification.NewBreakerMessenger(next, settings), closeFn, nil
}

// newFeedSource returns the change source for live feeds and, when the source can
// carry them, the notifier writers signal through.
func newFeedSource(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (feed.ChangeSource, feed.Notifier) {
	switch cfg.Feed.Source {
	case "redis":
		if rdb != nil {
			src := feed.NewRedisSource(rdb, logger)
			return src, src
		}
		logger.Warn("feed source redis requested without REDIS_ADDR, falling back to hub")
	case "poll":
		return feed.NewPollSource(cfg.Feed.PollInterval), nil
	}
	hub := feed.NewHub()
	return hub, hub
}

func runLocal(r *gin.Engine, cfg config.HTTP, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Timeout,
	}

	go func() {
		logger.Info("running local server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
