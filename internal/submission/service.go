// Package submission turns a validated cart into a persisted order and fans it out to staff.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
	"github.com/imrishuroy/restaurant-orderflow/internal/catalog"
	"github.com/imrishuroy/restaurant-orderflow/internal/feed"
	"github.com/imrishuroy/restaurant-orderflow/internal/idempotency"
	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
	"github.com/imrishuroy/restaurant-orderflow/internal/notification"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"github.com/imrishuroy/restaurant-orderflow/internal/validation"
)

// Metric names published per submission.
const (
	MetricOrdersSubmitted      = "OrdersSubmitted"
	MetricNotificationFailures = "NotificationFailures"
)

// ErrMissingRestaurant is returned when no restaurant id is given.
var ErrMissingRestaurant = &validation.InvalidFieldError{Field: "restaurantId", Reason: "is required"}

// RoleLister is the catalog view used for the role soft check.
type RoleLister interface {
	ListRoles(ctx context.Context, restaurantID string) ([]catalog.Role, error)
}

// Dispatcher fans an order out to its roles.
type Dispatcher interface {
	Dispatch(ctx context.Context, order orders.Order) []notification.DispatchResult
}

// Counter publishes a metric datum.
type Counter interface {
	Count(ctx context.Context, name, restaurantID string, value float64) error
}

// Result identifies the order a submission resolved to.
type Result struct {
	ID       string // server identity
	OrderID  string // client correlation id
	Replayed bool   // an earlier submission with the same correlation id already created the order
}

type Service struct {
	orders     *orders.Store
	idemp      *idempotency.Store
	roles      RoleLister
	dispatcher Dispatcher
	notifier   feed.Notifier
	metrics    Counter
	clock      *Clock
	policy     validation.TotalPolicy
	logger     *zap.Logger
	newID      func() string
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Orders      *orders.Store
	Idempotency *idempotency.Store
	Roles       RoleLister
	Dispatcher  Dispatcher
	Notifier    feed.Notifier
	Metrics     Counter
	Clock       *Clock
	TotalPolicy validation.TotalPolicy
	Logger      *zap.Logger
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = NewClock(nil)
	}
	if d.TotalPolicy == "" {
		d.TotalPolicy = validation.TotalPolicyStrict
	}
	return &Service{
		orders:     d.Orders,
		idemp:      d.Idempotency,
		roles:      d.Roles,
		dispatcher: d.Dispatcher,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		clock:      d.Clock,
		policy:     d.TotalPolicy,
		logger:     d.Logger,
		newID:      uuid.NewString,
	}
}

// SubmitOrder validates req, persists it once per correlation id and notifies staff.
// Validation errors satisfy validation.IsValidation; anything else is a persistence failure.
// Notification and feed failures are logged and never returned.
func (s *Service) SubmitOrder(ctx context.Context, restaurantID string, req validation.CreateOrderRequest) (Result, error) {
	ctx, span := otel.Tracer("submission").Start(ctx, "Service.SubmitOrder")
	defer span.End()
	span.SetAttributes(attribute.String("restaurant.id", restaurantID))

	if strings.TrimSpace(restaurantID) == "" {
		return Result{}, ErrMissingRestaurant
	}
	draft, err := validation.Validate(req, s.policy)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		logging.Info(ctx, s.logger, "order rejected",
			zap.String("restaurant_id", restaurantID), zap.Error(err))
		return Result{}, err
	}

	id := s.newID()
	correlationID := draft.OrderID
	if correlationID == "" {
		correlationID = id
	}
	key := idempotency.Key(restaurantID, correlationID)

	createdAt := s.clock.Next(restaurantID)
	order := orders.Order{
		ID:            id,
		OrderID:       correlationID,
		RestaurantID:  restaurantID,
		Items:         draft.Items,
		Total:         draft.Total,
		Status:        orders.StatusPending,
		TableNumber:   draft.TableNumber,
		SchemaVersion: draft.SchemaVersion,
		CreatedAt:     createdAt,
		CreatedSeq:    createdAt.UnixNano(),
	}
	known := s.knownRoles(ctx, restaurantID, order.Items)

	rec := s.idemp.NewRecord(key, restaurantID, id)
	rec.Fingerprint = draft.Fingerprint()
	err = s.orders.CreateWithIdempotencyTransaction(ctx, s.idemp.TableName(), rec, order)
	if errors.Is(err, orders.ErrIdempotencyConflict) {
		return s.replay(ctx, key, correlationID, rec.Fingerprint)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		logging.Error(ctx, s.logger, "order persist failed",
			zap.String("restaurant_id", restaurantID),
			zap.String("aws_error_code", aws.ErrorCode(err)),
			zap.Error(err))
		return Result{}, fmt.Errorf("persist order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", id))
	logging.Info(ctx, s.logger, "order created",
		zap.String("restaurant_id", restaurantID),
		zap.String("order_id", id),
		zap.String("correlation_id", correlationID),
		zap.Float64("total", order.Total))

	// The order is durable from here on; the request context may already be gone.
	after := context.WithoutCancel(ctx)
	s.afterCommit(after, order, known, key)

	return Result{ID: id, OrderID: correlationID}, nil
}

// replay resolves a taken correlation id. Only a submission with the same content is a
// replay; different content under the same id is rejected so it is never silently dropped.
func (s *Service) replay(ctx context.Context, key, correlationID, fingerprint string) (Result, error) {
	rec, err := s.idemp.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("read idempotency record: %w", err)
	}
	if rec == nil || rec.OrderID == "" {
		return Result{}, fmt.Errorf("idempotency conflict without record for %s", key)
	}
	// records written before fingerprints were stored carry none and replay as before
	if rec.Fingerprint != "" && rec.Fingerprint != fingerprint {
		logging.Warn(ctx, s.logger, "order id reused with different content",
			zap.String("idempotency_key", key), zap.String("order_id", rec.OrderID))
		return Result{}, &validation.OrderIDReusedError{OrderID: correlationID}
	}
	logging.Info(ctx, s.logger, "order replayed",
		zap.String("idempotency_key", key), zap.String("order_id", rec.OrderID))
	return Result{ID: rec.OrderID, OrderID: correlationID, Replayed: true}, nil
}

// knownRoles returns the role ids of items that exist in the catalog. A nil result means
// the catalog could not be read and every role is trusted.
func (s *Service) knownRoles(ctx context.Context, restaurantID string, items []orders.Item) map[string]bool {
	if s.roles == nil {
		return nil
	}
	roles, err := s.roles.ListRoles(ctx, restaurantID)
	if err != nil {
		logging.Warn(ctx, s.logger, "role lookup failed, skipping role check",
			zap.String("restaurant_id", restaurantID), zap.Error(err))
		return nil
	}
	known := make(map[string]bool, len(roles))
	for _, r := range roles {
		known[r.ID] = true
	}
	for i, it := range items {
		if it.RoleID != "" && !known[it.RoleID] {
			logging.Warn(ctx, s.logger, "item references unknown role",
				zap.String("restaurant_id", restaurantID),
				zap.Int("line", i),
				zap.String("role_id", it.RoleID))
		}
	}
	return known
}

func (s *Service) afterCommit(ctx context.Context, order orders.Order, known map[string]bool, key string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, order.RestaurantID)
	}

	failed := 0
	if s.dispatcher != nil {
		fanout := order
		if known != nil {
			fanout.Items = make([]orders.Item, 0, len(order.Items))
			for _, it := range order.Items {
				if known[it.RoleID] {
					fanout.Items = append(fanout.Items, it)
				}
			}
		}
		results := s.dispatcher.Dispatch(ctx, fanout)
		failed = notification.Failed(results)
		if failed > 0 {
			logging.Warn(ctx, s.logger, "some roles were not notified",
				zap.String("order_id", order.ID),
				zap.Int("failed", failed),
				zap.Int("roles", len(results)))
		}
	}

	s.count(ctx, MetricOrdersSubmitted, order.RestaurantID, 1)
	if failed > 0 {
		s.count(ctx, MetricNotificationFailures, order.RestaurantID, float64(failed))
	}

	body, _ := json.Marshal(map[string]string{"orderId": order.ID})
	if err := s.idemp.MarkDone(ctx, key, string(body), http.StatusCreated); err != nil {
		logging.Warn(ctx, s.logger, "idempotency record not finalized",
			zap.String("idempotency_key", key), zap.Error(err))
	}
}

func (s *Service) count(ctx context.Context, name, restaurantID string, v float64) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Count(ctx, name, restaurantID, v); err != nil {
		logging.Warn(ctx, s.logger, "metric not published",
			zap.String("metric", name), zap.Error(err))
	}
}
