package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/restaurant-orderflow/internal/aws/awsmock"
)

const table = "idempotency-table"

func newMock() *awsmock.DynamoDB {
	return awsmock.NewDynamoDB().WithTable(table, "idempotency_key", "")
}

func TestKey(t *testing.T) {
	if got := Key("r1", "order-1"); got != "r1#order-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if Key("r1", "x") == Key("r2", "x") {
		t.Fatalf("keys must be scoped per restaurant")
	}
}

func TestNewRecord(t *testing.T) {
	s := NewStore(newMock(), table, 48*time.Hour)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }

	rec := s.NewRecord("r1#c1", "r1", "srv-1")
	if rec.Status != StatusInProgress || rec.OrderID != "srv-1" || rec.RestaurantID != "r1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ExpiresAt != now.Add(48*time.Hour).Unix() {
		t.Fatalf("unexpected ttl %d", rec.ExpiresAt)
	}
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := newMock()
	s := NewStore(mock, table, 48*time.Hour)

	ctx := context.Background()
	key := "test-key-1"
	orderID := "order-123"

	created, err := s.CreateIfNotExists(ctx, s.NewRecord(key, "r1", orderID))
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, s.NewRecord(key, "r1", orderID))
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.OrderID != orderID || rec.RestaurantID != "r1" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := s.MarkDone(ctx, key, `{"ok":true}`, 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusDone || rec.ResponseStatus != 201 || rec.ResponseBody != `{"ok":true}` {
		t.Fatalf("unexpected record after MarkDone: %+v", rec)
	}

	if err := s.MarkFailed(ctx, key, "failure-note"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusFailed || rec.Note != "failure-note" {
		t.Fatalf("unexpected record after MarkFailed: %+v", rec)
	}

	if mock.PutCalls != 2 || mock.UpdateCalls != 2 {
		t.Fatalf("unexpected call counts put=%d update=%d", mock.PutCalls, mock.UpdateCalls)
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(newMock(), table, time.Hour)
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestMarkDone_MissingRecord(t *testing.T) {
	s := NewStore(newMock(), table, time.Hour)
	if err := s.MarkDone(context.Background(), "nope", "", 200); err == nil {
		t.Fatalf("expected error for missing record")
	}
}

func TestGet_ReadsSeededRecord(t *testing.T) {
	mock := newMock()
	mock.Seed(table, map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: "r1#c9"},
		"status":          &types.AttributeValueMemberS{Value: StatusDone},
		"order_id":        &types.AttributeValueMemberS{Value: "srv-9"},
		"restaurant_id":   &types.AttributeValueMemberS{Value: "r1"},
		"created_at":      &types.AttributeValueMemberS{Value: "2024-05-01T12:00:00Z"},
		"updated_at":      &types.AttributeValueMemberS{Value: "2024-05-01T12:00:00Z"},
		"expires_at":      &types.AttributeValueMemberN{Value: "0"},
	})
	s := NewStore(mock, table, time.Hour)
	rec, err := s.Get(context.Background(), "r1#c9")
	if err != nil || rec == nil {
		t.Fatalf("get: %v %v", rec, err)
	}
	if rec.OrderID != "srv-9" || rec.RestaurantID != "r1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}
