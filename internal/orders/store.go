package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
)

var tracer = otel.Tracer("orders")

// RestaurantIndex is the GSI (restaurant_id HASH, created_seq RANGE) used to list orders.
const RestaurantIndex = "restaurant_id-created_seq-index"

var (
	// ErrStatusMismatch is returned when the conditional status update fails.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrInvalidTransition is returned for backward, repeated or post-terminal transitions.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrIdempotencyConflict is returned when the idempotency record already exists.
	ErrIdempotencyConflict = errors.New("idempotency key already used")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in orders table (with ConditionExpression attribute_not_exists(id))
//
// It marshals both items and issues a TransactWriteItems call. Either both items exist
// afterwards or neither does. A cancelled transaction is reported as ErrIdempotencyConflict.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order) error {
	ctx, span := tracer.Start(ctx, "Store.CreateWithIdempotencyTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("restaurant.id", order.RestaurantID))

	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}

	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.CreatedSeq == 0 {
		order.CreatedSeq = order.CreatedAt.UnixNano()
	}
	order.UpdatedAt = order.CreatedAt

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &idempotencyTable,
				Item:                idempMap,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(id)"),
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %v", ErrIdempotencyConflict, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by its server identity. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "Store.Get")
	defer span.End()

	key := map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByRestaurant returns every order of a restaurant, newest first.
func (s *Store) ListByRestaurant(ctx context.Context, restaurantID string) ([]Order, error) {
	ctx, span := tracer.Start(ctx, "Store.ListByRestaurant")
	defer span.End()
	span.SetAttributes(attribute.String("restaurant.id", restaurantID))

	var (
		result []Order
		start  map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			IndexName:              awsString(RestaurantIndex),
			KeyConditionExpression: awsString("restaurant_id = :rid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":rid": &types.AttributeValueMemberS{Value: restaurantID},
			},
			ScanIndexForward:  awsBool(false),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query orders: %w", err)
		}

		page := make([]Order, 0, len(out.Items))
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		result = append(result, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	return result, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, id string, expectedStatus, newStatus Status) error {
	now := s.nowFunc().UTC()
	updateExpr := "SET #s = :new, updated_at = :ua"
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:         &updateExpr,
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(newStatus)},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":expected": &types.AttributeValueMemberS{Value: string(expectedStatus)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// Advance moves an order forward to next, possibly skipping a stage. Backward and repeated
// transitions are rejected with ErrInvalidTransition without touching the table.
func (s *Store) Advance(ctx context.Context, id string, next Status) (*Order, error) {
	ctx, span := tracer.Start(ctx, "Store.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id), attribute.String("order.status", string(next)))

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if !current.Status.CanTransitionTo(next) {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}
	if err := s.UpdateStatus(ctx, id, current.Status, next); err != nil {
		return current, err
	}
	current.Status = next
	current.UpdatedAt = s.nowFunc().UTC()
	return current, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
