package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
	"github.com/imrishuroy/restaurant-orderflow/internal/config"
	"github.com/imrishuroy/restaurant-orderflow/internal/feed"
	"github.com/imrishuroy/restaurant-orderflow/internal/idempotency"
	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"github.com/imrishuroy/restaurant-orderflow/internal/telemetry"
)

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

	shutdownTracer, err := telemetry.InitTracer(ctx, "orderflow-worker", cfg.Env)
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

	// The worker runs apart from the API, so only a Redis channel can reach live feeds.
	var notifier feed.Notifier
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		notifier = feed.NewRedisSource(rdb, logger)
	}

	p := NewProcessor(
		orders.NewStore(clients.DynamoDB, cfg.AWS.OrdersTable),
		idempotency.NewStore(clients.DynamoDB, cfg.AWS.IdempotencyTable, cfg.Orders.IdempotencyTTL),
		notifier,
		logger,
	)

	// RUN_LOCAL feeds a single message from LOCAL_SQS_BODY through the processor.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"restaurantId":"local-restaurant","orderId":"local-order-1","status":"in-progress"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		resp, err := p.Handle(ctx, event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
