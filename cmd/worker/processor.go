package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/feed"
	"github.com/imrishuroy/restaurant-orderflow/internal/idempotency"
	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
)

// Processor applies status updates from SQS to the orders table.
type Processor struct {
	orderStore *orders.Store
	idempStore *idempotency.Store
	notifier   feed.Notifier
	logger     *zap.Logger
}

// NewProcessor creates a worker processor. notifier may be nil when no feed channel
// crosses process boundaries.
func NewProcessor(orderStore *orders.Store, idempStore *idempotency.Store, notifier feed.Notifier, logger *zap.Logger) *Processor {
	return &Processor{
		orderStore: orderStore,
		idempStore: idempStore,
		notifier:   notifier,
		logger:     logger,
	}
}

// Handle processes an SQS batch and reports only the messages that should be retried.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			logging.Error(ctx, p.logger, "status update failed, will retry",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

// processMessage returns an error only for transient failures. Malformed, stale and
// unknown-order messages are acknowledged and dropped.
func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg StatusUpdate
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		logging.Warn(ctx, p.logger, "dropping malformed status update",
			zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}
	if err := msg.validate(); err != nil {
		logging.Warn(ctx, p.logger, "dropping invalid status update",
			zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}

	fields := []zap.Field{
		zap.String("restaurant_id", msg.RestaurantID),
		zap.String("order_id", msg.OrderID),
		zap.String("status", string(msg.Status)),
	}
	key := msg.idempotencyKey()

	created, err := p.idempStore.CreateIfNotExists(ctx, p.idempStore.NewRecord(key, msg.RestaurantID, msg.OrderID))
	if err != nil {
		return fmt.Errorf("create idempotency record: %w", err)
	}
	if !created {
		existing, err := p.idempStore.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get idempotency record: %w", err)
		}
		if existing != nil && existing.Status != idempotency.StatusInProgress {
			logging.Info(ctx, p.logger, "duplicate status update", append(fields, zap.String("previous", existing.Status))...)
			return nil
		}
	}

	current, err := p.orderStore.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	if current == nil || current.RestaurantID != msg.RestaurantID {
		p.drop(ctx, key, "order not found", fields)
		return nil
	}

	updated, err := p.orderStore.Advance(ctx, msg.OrderID, msg.Status)
	switch {
	case errors.Is(err, orders.ErrInvalidTransition):
		p.drop(ctx, key, fmt.Sprintf("stale transition from %s", current.Status), fields)
		return nil
	case errors.Is(err, orders.ErrNotFound):
		p.drop(ctx, key, "order not found", fields)
		return nil
	case err != nil:
		// ErrStatusMismatch lands here too: a concurrent update won, the retry re-evaluates.
		return fmt.Errorf("advance order: %w", err)
	}

	body, _ := json.Marshal(map[string]string{"orderId": updated.ID, "status": string(updated.Status)})
	if err := p.idempStore.MarkDone(ctx, key, string(body), http.StatusOK); err != nil {
		logging.Warn(ctx, p.logger, "idempotency record not finalized", append(fields, zap.Error(err))...)
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, msg.RestaurantID)
	}
	logging.Info(ctx, p.logger, "order status updated", fields...)
	return nil
}

func (p *Processor) drop(ctx context.Context, key, reason string, fields []zap.Field) {
	logging.Warn(ctx, p.logger, "dropping status update", append(fields, zap.String("reason", reason))...)
	if err := p.idempStore.MarkFailed(ctx, key, reason); err != nil {
		logging.Warn(ctx, p.logger, "idempotency record not marked failed", append(fields, zap.Error(err))...)
	}
}
