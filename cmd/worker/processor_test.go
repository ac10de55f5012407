package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws/awsmock"
	"github.com/imrishuroy/restaurant-orderflow/internal/idempotency"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(_ context.Context, restaurantID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, restaurantID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixture struct {
	dynamo   *awsmock.DynamoDB
	orders   *orders.Store
	idemp    *idempotency.Store
	notifier *recordingNotifier
	proc     *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dynamo := awsmock.NewDynamoDB().
		WithTable("orders", "id", "").
		WithTable("idempotency", "idempotency_key", "")
	f := &fixture{
		dynamo:   dynamo,
		orders:   orders.NewStore(dynamo, "orders"),
		idemp:    idempotency.NewStore(dynamo, "idempotency", time.Hour),
		notifier: &recordingNotifier{},
	}
	f.proc = NewProcessor(f.orders, f.idemp, f.notifier, zap.NewNop())
	return f
}

func (f *fixture) seed(t *testing.T, id, restaurantID string, status orders.Status) {
	t.Helper()
	now := time.Now().UTC()
	item, err := attributevalue.MarshalMap(orders.Order{
		ID:           id,
		OrderID:      "corr-" + id,
		RestaurantID: restaurantID,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	f.dynamo.Seed("orders", item)
}

func event(bodies ...string) events.SQSEvent {
	var ev events.SQSEvent
	for i, b := range bodies {
		ev.Records = append(ev.Records, events.SQSMessage{MessageId: string(rune('a' + i)), Body: b})
	}
	return ev
}

func TestHandle_AdvancesAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o1", "r1", orders.StatusPending)

	resp, err := f.proc.Handle(context.Background(), event(`{"restaurantId":"r1","orderId":"o1","status":"in-progress"}`))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	got, err := f.orders.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInProgress, got.Status)
	assert.Equal(t, 1, f.notifier.count())

	rec, err := f.idemp.Get(context.Background(), StatusUpdate{RestaurantID: "r1", OrderID: "o1", Status: orders.StatusInProgress}.idempotencyKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
}

func TestHandle_DuplicateIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o1", "r1", orders.StatusPending)
	body := `{"restaurantId":"r1","orderId":"o1","status":"in-progress"}`

	_, err := f.proc.Handle(context.Background(), event(body))
	require.NoError(t, err)
	updates := f.dynamo.UpdateCalls

	resp, err := f.proc.Handle(context.Background(), event(body))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, updates, f.dynamo.UpdateCalls, "no writes for a redelivered message")
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandle_FullLifecycleInOneBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o1", "r1", orders.StatusPending)

	resp, err := f.proc.Handle(context.Background(), event(
		`{"restaurantId":"r1","orderId":"o1","status":"in-progress"}`,
		`{"restaurantId":"r1","orderId":"o1","status":"complete"}`,
	))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	got, _ := f.orders.Get(context.Background(), "o1")
	assert.Equal(t, orders.StatusComplete, got.Status)
	assert.Equal(t, 2, f.notifier.count())
}

func TestHandle_ReorderedDeliveryStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o1", "r1", orders.StatusPending)

	resp, err := f.proc.Handle(context.Background(), event(`{"restaurantId":"r1","orderId":"o1","status":"complete"}`))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	resp, err = f.proc.Handle(context.Background(), event(`{"restaurantId":"r1","orderId":"o1","status":"in-progress"}`))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	got, err := f.orders.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusComplete, got.Status)
	assert.Equal(t, 1, f.notifier.count(), "late in-progress is dropped")
}

func TestHandle_DropsWithoutRetry(t *testing.T) {
	cases := []struct {
		name string
		body string
		want orders.Status
	}{
		{"malformed", `{not json`, orders.StatusComplete},
		{"unknown status", `{"restaurantId":"r1","orderId":"o1","status":"cancelled"}`, orders.StatusComplete},
		{"backward", `{"restaurantId":"r1","orderId":"o1","status":"pending"}`, orders.StatusComplete},
		{"repeat", `{"restaurantId":"r1","orderId":"o1","status":"complete"}`, orders.StatusComplete},
		{"other restaurant", `{"restaurantId":"r2","orderId":"o1","status":"pending"}`, orders.StatusComplete},
		{"missing order", `{"restaurantId":"r1","orderId":"nope","status":"in-progress"}`, orders.StatusComplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "o1", "r1", orders.StatusComplete)

			resp, err := f.proc.Handle(context.Background(), event(tc.body))
			require.NoError(t, err)
			assert.Empty(t, resp.BatchItemFailures)
			assert.Zero(t, f.notifier.count())

			got, _ := f.orders.Get(context.Background(), "o1")
			assert.Equal(t, tc.want, got.Status)
		})
	}
}

func TestHandle_StaleTransitionIsMarkedFailed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o1", "r1", orders.StatusInProgress)
	msg := StatusUpdate{RestaurantID: "r1", OrderID: "o1", Status: orders.StatusPending}

	_, err := f.proc.Handle(context.Background(), event(`{"restaurantId":"r1","orderId":"o1","status":"pending"}`))
	require.NoError(t, err)

	rec, err := f.idemp.Get(context.Background(), msg.idempotencyKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
	assert.Contains(t, rec.Note, "stale transition")
}

func TestHandle_TransientErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o1", "r1", orders.StatusPending)
	f.dynamo.Err = errors.New("throttled")

	resp, err := f.proc.Handle(context.Background(), event(
		`{"restaurantId":"r1","orderId":"o1","status":"in-progress"}`,
		`{not json`,
	))
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "a", resp.BatchItemFailures[0].ItemIdentifier)

	f.dynamo.Err = nil
	resp, err = f.proc.Handle(context.Background(), event(`{"restaurantId":"r1","orderId":"o1","status":"in-progress"}`))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	got, _ := f.orders.Get(context.Background(), "o1")
	assert.Equal(t, orders.StatusInProgress, got.Status)
}

func TestHandle_NilNotifier(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o1", "r1", orders.StatusPending)
	proc := NewProcessor(f.orders, f.idemp, nil, zap.NewNop())

	resp, err := proc.Handle(context.Background(), event(`{"restaurantId":"r1","orderId":"o1","status":"in-progress"}`))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
}
