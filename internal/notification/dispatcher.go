// Package notification fans an order out to the staff roles that prepare it.
package notification

import (
	"context"
	"time"

	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Messenger delivers one notification to the messaging provider.
type Messenger interface {
	Send(ctx context.Context, n OrderNotification) error
}

// DispatchResult is the outcome for one role.
type DispatchResult struct {
	RoleID string
	Err    error
}

const (
	defaultConcurrency = 4
	defaultSendTimeout = 10 * time.Second
)

// Dispatcher sends one notification per role, concurrently and independently.
type Dispatcher struct {
	messenger   Messenger
	concurrency int
	sendTimeout time.Duration
	logger      *zap.Logger
}

func NewDispatcher(m Messenger, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Dispatcher{
		messenger:   m,
		concurrency: concurrency,
		sendTimeout: defaultSendTimeout,
		logger:      logger,
	}
}

// Dispatch groups the order items by role and sends one message per group.
// A failed role does not stop the others; every outcome is returned in group order.
func (d *Dispatcher) Dispatch(ctx context.Context, order orders.Order) []DispatchResult {
	ctx, span := otel.Tracer("notification").Start(ctx, "Dispatcher.Dispatch")
	defer span.End()

	groups := Group(order.Items)
	span.SetAttributes(
		attribute.String("restaurant.id", order.RestaurantID),
		attribute.Int("roles", len(groups)),
	)

	results := make([]DispatchResult, len(groups))
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, grp := range groups {
		i, grp := i, grp
		results[i].RoleID = grp.RoleID
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()

			n := NewOrderNotification(order, grp)
			if err := d.messenger.Send(sendCtx, n); err != nil {
				results[i].Err = err
				logging.Error(ctx, d.logger, "notification failed",
					zap.String("order_id", order.ID),
					zap.String("topic", n.Topic),
					zap.Error(err))
				return nil
			}
			logging.Debug(ctx, d.logger, "notification sent",
				zap.String("order_id", order.ID),
				zap.String("topic", n.Topic))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Failed counts the failed results.
func Failed(results []DispatchResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
