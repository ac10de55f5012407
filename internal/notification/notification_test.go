package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/aws"
	"github.com/imrishuroy/restaurant-orderflow/internal/aws/awsmock"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
)

type recordingMessenger struct {
	mu     sync.Mutex
	sent   []OrderNotification
	failOn map[string]error
}

func (m *recordingMessenger) Send(ctx context.Context, n OrderNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[n.RoleID]; err != nil {
		return err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *recordingMessenger) byRole() map[string]OrderNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]OrderNotification{}
	for _, n := range m.sent {
		out[n.RoleID] = n
	}
	return out
}

func kitchenBarOrder() orders.Order {
	return orders.Order{
		ID:           "srv-1",
		RestaurantID: "r1",
		TableNumber:  "7",
		Items: []orders.Item{
			{ItemName: "Soup", Price: 5, Quantity: 2, RoleID: "kitchen"},
			{ItemName: "Wine", Price: 8, Quantity: 1, RoleID: "bar"},
		},
	}
}

func TestGroup(t *testing.T) {
	groups := Group([]orders.Item{
		{ItemName: "Burger", Price: 9.5, Quantity: 2, RoleID: "kitchen"},
		{ItemName: "Beer", Price: 4, Quantity: 1, RoleID: "bar"},
		{ItemName: "Napkins", Price: 0, Quantity: 3},
		{ItemName: "Fries", Price: 0.1, Quantity: 3, RoleID: "kitchen"},
	})
	require.Len(t, groups, 2)

	assert.Equal(t, "kitchen", groups[0].RoleID)
	assert.Equal(t, "2x Burger, 3x Fries", groups[0].Summary)
	assert.Equal(t, 5, groups[0].Count)
	assert.Equal(t, "19.30", groups[0].Subtotal.StringFixed(2))

	assert.Equal(t, "bar", groups[1].RoleID)
	assert.Equal(t, "1x Beer", groups[1].Summary)
}

func TestGroup_NoRoles(t *testing.T) {
	assert.Empty(t, Group([]orders.Item{{ItemName: "Water", Quantity: 1}}))
}

func TestDispatch_KitchenAndBar(t *testing.T) {
	m := &recordingMessenger{}
	d := NewDispatcher(m, 2, zap.NewNop())

	results := d.Dispatch(context.Background(), kitchenBarOrder())
	require.Len(t, results, 2)
	assert.Equal(t, 0, Failed(results))

	sent := m.byRole()
	require.Len(t, sent, 2)
	assert.Equal(t, 2, sent["kitchen"].CartItemsCount)
	assert.Equal(t, 10.00, sent["kitchen"].CartTotal)
	assert.Equal(t, 1, sent["bar"].CartItemsCount)
	assert.Equal(t, 8.00, sent["bar"].CartTotal)

	k := sent["kitchen"]
	assert.Equal(t, "restaurant_r1_role_kitchen", k.Topic)
	assert.Equal(t, "New Order for Preparation", k.Title)
	assert.Equal(t, "Prepare 2x Soup (Qty: 2). Total cart value: $10.00 - Table 7", k.Body)
	assert.Equal(t, "2x Soup", k.ItemName)
	assert.Equal(t, "7", k.TableNumber)
	assert.Equal(t, "srv-1", k.OrderID)
}

func TestDispatch_FailureIsIsolated(t *testing.T) {
	m := &recordingMessenger{failOn: map[string]error{"kitchen": errors.New("provider down")}}
	d := NewDispatcher(m, 1, zap.NewNop())

	results := d.Dispatch(context.Background(), kitchenBarOrder())
	require.Len(t, results, 2)
	assert.Equal(t, "kitchen", results[0].RoleID)
	assert.Error(t, results[0].Err)
	assert.Equal(t, "bar", results[1].RoleID)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, Failed(results))

	_, ok := m.byRole()["bar"]
	assert.True(t, ok, "bar must be notified despite kitchen failure")
}

type countingMessenger struct {
	inFlight, peak int32
}

func (m *countingMessenger) Send(ctx context.Context, n OrderNotification) error {
	cur := atomic.AddInt32(&m.inFlight, 1)
	for {
		p := atomic.LoadInt32(&m.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&m.peak, p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&m.inFlight, -1)
	return nil
}

func TestDispatch_BoundedConcurrency(t *testing.T) {
	var items []orders.Item
	for _, r := range []string{"a", "b", "c", "d", "e", "f"} {
		items = append(items, orders.Item{ItemName: r, Price: 1, Quantity: 1, RoleID: r})
	}
	m := &countingMessenger{}
	d := NewDispatcher(m, 2, zap.NewNop())

	results := d.Dispatch(context.Background(), orders.Order{ID: "o", RestaurantID: "r1", Items: items})
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&m.peak), int32(2))
}

func TestNotificationBody_NoTable(t *testing.T) {
	o := kitchenBarOrder()
	o.TableNumber = ""
	n := NewOrderNotification(o, Group(o.Items)[1])
	assert.Equal(t, "Prepare 1x Wine (Qty: 1). Total cart value: $8.00", n.Body)
}

func TestSQSMessenger(t *testing.T) {
	sqsMock := &awsmock.SQS{}
	m := NewSQSMessenger(aws.NewPublisher(sqsMock, "https://queue/notify"))
	o := kitchenBarOrder()

	require.NoError(t, m.Send(context.Background(), NewOrderNotification(o, Group(o.Items)[0])))

	msgs := sqsMock.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "restaurant_r1_role_kitchen", *msgs[0].MessageAttributes["topic"].StringValue)

	var got OrderNotification
	require.NoError(t, json.Unmarshal([]byte(*msgs[0].MessageBody), &got))
	assert.Equal(t, "kitchen", got.RoleID)
	assert.Equal(t, 10.0, got.CartTotal)
}

func TestSQSMessenger_Error(t *testing.T) {
	sqsMock := &awsmock.SQS{FailFor: func(*sqs.SendMessageInput) error { return errors.New("throttled") }}
	m := NewSQSMessenger(aws.NewPublisher(sqsMock, "q"))
	o := kitchenBarOrder()
	assert.Error(t, m.Send(context.Background(), NewOrderNotification(o, Group(o.Items)[0])))
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

func TestAMQPMessenger(t *testing.T) {
	ch := &fakeChannel{}
	m := NewAMQPMessenger(ch, "staff_notifications")
	o := kitchenBarOrder()

	require.NoError(t, m.Send(context.Background(), NewOrderNotification(o, Group(o.Items)[1])))
	assert.Equal(t, "staff_notifications", ch.exchange)
	assert.Equal(t, "restaurant_r1_role_bar", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

	ch.err = errors.New("channel closed")
	assert.Error(t, m.Send(context.Background(), NewOrderNotification(o, Group(o.Items)[1])))
}

func TestBreakerMessenger_OpensAfterFailures(t *testing.T) {
	calls := 0
	failing := messengerFunc(func(ctx context.Context, n OrderNotification) error {
		calls++
		return errors.New("down")
	})
	m := NewBreakerMessenger(failing, BreakerSettings("test", zap.NewNop()))

	for i := 0; i < 5; i++ {
		assert.Error(t, m.Send(context.Background(), OrderNotification{}))
	}
	assert.Equal(t, gobreaker.StateOpen, m.State())

	err := m.Send(context.Background(), OrderNotification{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, calls)
}

type messengerFunc func(ctx context.Context, n OrderNotification) error

func (f messengerFunc) Send(ctx context.Context, n OrderNotification) error { return f(ctx, n) }
