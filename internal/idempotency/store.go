package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
)

var tracer = otel.Tracer("idempotency")

// Store keeps idempotency records in DynamoDB, one item per key.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a Store whose records expire ttlWindow after creation.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// TableName is the idempotency table the store writes to.
func (s *Store) TableName() string { return s.tableName }

// NewRecord builds an IN_PROGRESS record for key. Order submissions write it inside the
// order creation transaction; the status worker writes it with CreateIfNotExists.
func (s *Store) NewRecord(key, restaurantID, orderID string) IdempotencyRecord {
	now := s.nowFunc().UTC()
	return IdempotencyRecord{
		IdempotencyKey: key,
		RestaurantID:   restaurantID,
		Status:         StatusInProgress,
		OrderID:        orderID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
}

// CreateIfNotExists writes rec unless its key is already taken.
// created is false when a record exists; the caller inspects it with Get.
func (s *Store) CreateIfNotExists(ctx context.Context, rec IdempotencyRecord) (created bool, err error) {
	ctx, span := tracer.Start(ctx, "Store.CreateIfNotExists")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency.key", rec.IdempotencyKey))

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	switch {
	case err == nil:
		return true, nil
	case aws.ErrorCode(err) == "ConditionalCheckFailedException":
		return false, nil
	default:
		return false, fmt.Errorf("put item: %w", err)
	}
}

// Get reads a record with a consistent read. A missing key yields (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.Get")
	defer span.End()

	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone finalizes a record with the response that replays should see.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	return s.finish(ctx, "Store.MarkDone", key, StatusDone, map[string]types.AttributeValue{
		"response_body":   &types.AttributeValueMemberS{Value: responseBody},
		"response_status": &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
	})
}

// MarkFailed records that the keyed operation was abandoned, with a note why.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.finish(ctx, "Store.MarkFailed", key, StatusFailed, map[string]types.AttributeValue{
		"note": &types.AttributeValueMemberS{Value: note},
	})
}

// finish sets status plus extra attributes on an existing record.
func (s *Store) finish(ctx context.Context, op, key, status string, extra map[string]types.AttributeValue) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	expr := "SET #s = :status, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: status},
		":ua":     &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	for name, v := range extra {
		placeholder := ":" + name
		expr += ", " + name + " = " + placeholder
		values[placeholder] = v
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(key),
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("attribute_exists(idempotency_key)"),
	})
	if err != nil {
		return fmt.Errorf("update item (%s): %w", status, err)
	}
	return nil
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
